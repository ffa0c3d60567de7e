package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/r3labs/sse/v2"
	"gopkg.in/cenkalti/backoff.v1"

	"video-effects-backend/internal/models"
)

const snapshotEvent = "snapshot"

// Subscribe opens the record's event stream. The channel closes when the
// server ends the stream, on a read error, or when ctx is done. A rejected
// stream comes back as a *StatusError before any snapshot is read.
func (c *Client) Subscribe(ctx context.Context, id uuid.UUID, token string) (<-chan models.Snapshot, error) {
	stream := sse.NewClient(c.baseURL + "/transformations/" + id.String() + "/events?token=" + url.QueryEscape(token))
	stream.Connection = c.streamClient
	// The server closes the stream once the record is terminal; never reconnect.
	stream.ReconnectStrategy = &backoff.StopBackOff{}

	opened := make(chan error, 1)
	var once sync.Once
	report := func(err error) { once.Do(func() { opened <- err }) }

	stream.ResponseValidator = func(_ *sse.Client, resp *http.Response) error {
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			err := statusError("open event stream", resp)
			report(err)
			return err
		}
		report(nil)
		return nil
	}

	out := make(chan models.Snapshot)
	log := c.log.WithField("transformation_id", id)
	go func() {
		defer close(out)
		err := stream.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
			if string(msg.Event) != snapshotEvent {
				return
			}
			var snap models.Snapshot
			if err := json.Unmarshal(msg.Data, &snap); err != nil {
				log.WithError(err).Warn("skipping malformed snapshot")
				return
			}
			select {
			case out <- snap:
			case <-ctx.Done():
			}
		})
		if err != nil {
			report(fmt.Errorf("failed to open event stream: %w", err))
			if ctx.Err() == nil {
				log.WithError(err).Warn("event stream ended with error")
			}
			return
		}
		report(nil)
	}()

	if err := <-opened; err != nil {
		return nil, err
	}
	return out, nil
}
