package apiclient_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-effects-backend/internal/apiclient"
	"video-effects-backend/internal/effects"
	"video-effects-backend/internal/models"
	"video-effects-backend/internal/orchestrator"
	"video-effects-backend/internal/remote"
)

var principal = orchestrator.Principal{UserID: uuid.New(), Token: "session"}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestQuotaAndSubmit(t *testing.T) {
	id := uuid.New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/quota", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer session", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, models.QuotaResponse{Quota: models.Quota{TotalSizeBytes: 1, MaxSizeBytes: 10}})
	})
	mux.HandleFunc("POST /api/v1/transformations", func(w http.ResponseWriter, r *http.Request) {
		var req models.CreateTransformationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		writeJSON(w, http.StatusCreated, models.TransformationResponse{Snapshot: models.Snapshot{
			Transformation: models.Transformation{ID: id, SourcePath: req.SourcePath, Effect: req.Effect, Status: models.StatusPending},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := apiclient.NewClient(srv.URL + "/api/v1/")

	q, err := c.Quota(context.Background(), principal)
	require.NoError(t, err)
	assert.Equal(t, int64(9), q.Remaining())

	rec, err := c.Submit(context.Background(), principal, "u/original/a.mp4", "sepia")
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "sepia", rec.Effect)
	assert.Equal(t, models.StatusPending, rec.Status)
}

func TestSubmit_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		code int
		body models.ErrorResponse
		want error
	}{
		{"server failure", http.StatusServiceUnavailable, models.ErrorResponse{Error: "submission failed"}, remote.ErrSubmissionFailed},
		{"unknown effect", http.StatusBadRequest, models.ErrorResponse{Error: "unknown effect"}, effects.ErrUnknownEffect},
		{"unauthorized", http.StatusUnauthorized, models.ErrorResponse{Error: "invalid token"}, orchestrator.ErrAuthRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.code, tt.body)
			}))
			defer srv.Close()

			_, err := apiclient.NewClient(srv.URL).Submit(context.Background(), principal, "p", "sepia")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			var se *apiclient.StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.code, se.Code)
		})
	}
}

func TestMissingCredential(t *testing.T) {
	c := apiclient.NewClient("http://127.0.0.1:0")
	_, err := c.Submit(context.Background(), orchestrator.Principal{}, "p", "sepia")
	assert.ErrorIs(t, err, orchestrator.ErrAuthRequired)
	assert.NotErrorIs(t, err, remote.ErrSubmissionFailed)
}

func TestIssueTokenAndSubscribe(t *testing.T) {
	id := uuid.New()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /transformations/{id}/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, id.String(), r.PathValue("id"))
		writeJSON(w, http.StatusOK, models.AccessTokenResponse{Token: "scoped", ExpiresAt: time.Now().Add(time.Hour)})
	})
	mux.HandleFunc("GET /transformations/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "scoped", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range []int{0, 45, 100} {
			status := models.StatusProcessing
			if p == 100 {
				status = models.StatusCompleted
			}
			data, _ := json.Marshal(models.Snapshot{Transformation: models.Transformation{ID: id, Status: status, Progress: p}})
			fmt.Fprintf(w, "event:snapshot\ndata:%s\n\n", data)
		}
		fmt.Fprint(w, ": keepalive\n\nevent:other\ndata:{}\n\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := apiclient.NewClient(srv.URL)
	token, err := c.IssueAccessToken(context.Background(), principal, id)
	require.NoError(t, err)
	require.Equal(t, "scoped", token)

	stream, err := c.Subscribe(context.Background(), id, token)
	require.NoError(t, err)

	var progress []int
	for snap := range stream {
		progress = append(progress, snap.Progress)
	}
	assert.Equal(t, []int{0, 45, 100}, progress)
}

func TestSubscribe_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "invalid access token"})
	}))
	defer srv.Close()

	_, err := apiclient.NewClient(srv.URL).Subscribe(context.Background(), uuid.New(), "bad")
	var se *apiclient.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
}

func TestSubscribe_SkipsUnrelatedAndMalformedEvents(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: snapshot\ndata: {not json\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: heartbeat\ndata: {}\n\n")
		fmt.Fprintf(w, "event: snapshot\nid: 7\ndata: {\"id\":\"%s\",\ndata: \"status\":\"processing\",\"progress\":30}\n\n", id)
	}))
	defer srv.Close()

	stream, err := apiclient.NewClient(srv.URL).Subscribe(context.Background(), id, "scoped")
	require.NoError(t, err)

	var got []models.Snapshot
	for snap := range stream {
		got = append(got, snap)
	}
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, models.StatusProcessing, got[0].Status)
	assert.Equal(t, 30, got[0].Progress)
}

func TestSubscribe_ClosesWhenCallerCancels(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		data, _ := json.Marshal(models.Snapshot{Transformation: models.Transformation{ID: id, Status: models.StatusProcessing, Progress: 10}})
		fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := apiclient.NewClient(srv.URL).Subscribe(ctx, id, "scoped")
	require.NoError(t, err)

	first := <-stream
	assert.Equal(t, 10, first.Progress)
	cancel()

	select {
	case _, ok := <-stream:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
}
