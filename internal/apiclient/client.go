// Package apiclient talks to the transformations API on behalf of a signed-in
// user. It is the remote backend used by the client-side orchestrator.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"video-effects-backend/internal/effects"
	"video-effects-backend/internal/logging"
	"video-effects-backend/internal/models"
	"video-effects-backend/internal/orchestrator"
	"video-effects-backend/internal/remote"
)

// StatusError is a non-success API answer.
type StatusError struct {
	Op       string
	Code     int
	Response models.ErrorResponse
}

func (e *StatusError) Error() string {
	msg := e.Response.Error
	if e.Response.Message != "" {
		msg += ": " + e.Response.Message
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, msg)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no overall timeout; event streams last as long as the job.
	streamClient *http.Client
	log          *logrus.Entry
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
			cl.streamClient = &http.Client{Transport: c.Transport}
		}
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(cl *Client) {
		if log != nil {
			cl.log = log
		}
	}
}

// NewClient targets an API root such as https://host/api/v1.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{},
		log:          logging.Component(nil, "apiclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Quota(ctx context.Context, p orchestrator.Principal) (models.Quota, error) {
	var resp models.QuotaResponse
	if err := c.do(ctx, "get quota", http.MethodGet, "/quota", p.Token, nil, &resp); err != nil {
		return models.Quota{}, err
	}
	return resp.Quota, nil
}

// Submit creates a transformation. Server-side failures map to
// remote.ErrSubmissionFailed, an unknown effect to effects.ErrUnknownEffect.
func (c *Client) Submit(ctx context.Context, p orchestrator.Principal, sourcePath, effectID string) (*models.Transformation, error) {
	req := models.CreateTransformationRequest{SourcePath: sourcePath, Effect: effectID}
	var resp models.TransformationResponse
	err := c.do(ctx, "submit transformation", http.MethodPost, "/transformations", p.Token, req, &resp)
	if err != nil {
		var se *StatusError
		switch {
		case errors.Is(err, orchestrator.ErrAuthRequired):
			return nil, err
		case errors.As(err, &se) && se.Code >= http.StatusInternalServerError:
			return nil, fmt.Errorf("%w: %w", remote.ErrSubmissionFailed, err)
		case errors.As(err, &se) && se.Response.Error == "unknown effect":
			return nil, fmt.Errorf("%w: %w", effects.ErrUnknownEffect, err)
		case errors.As(err, &se):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %w", remote.ErrSubmissionFailed, err)
		}
	}
	t := resp.Transformation
	return &t, nil
}

func (c *Client) IssueAccessToken(ctx context.Context, p orchestrator.Principal, id uuid.UUID) (string, error) {
	var resp models.AccessTokenResponse
	if err := c.do(ctx, "issue access token", http.MethodPost, "/transformations/"+id.String()+"/token", p.Token, nil, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, op, method, path, bearer string, body, out any) error {
	if strings.TrimSpace(bearer) == "" {
		return orchestrator.ErrAuthRequired
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", orchestrator.ErrAuthRequired, statusError(op, resp))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	se := &StatusError{Op: op, Code: resp.StatusCode}
	if err := json.Unmarshal(data, &se.Response); err != nil || se.Response.Error == "" {
		se.Response = models.ErrorResponse{Error: strings.TrimSpace(string(data))}
	}
	return se
}
