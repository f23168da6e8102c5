package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sync"

	"github.com/wattwise/wattsync/internal/sse"
)

// EventStream yields server-sent events until it is closed or the
// connection drops.
type EventStream interface {
	// Next blocks for the next event. It returns an error once the stream
	// has ended for any reason.
	Next() (sse.Event, error)
	// Close releases the connection. It is safe to call more than once.
	Close() error
}

type eventStream struct {
	body   io.ReadCloser
	reader *sse.Reader
	once   sync.Once
	err    error
}

func (s *eventStream) Next() (sse.Event, error) {
	return s.reader.Next()
}

func (s *eventStream) Close() error {
	s.once.Do(func() {
		s.err = s.body.Close()
	})
	return s.err
}

// OpenStream connects to a house's device event stream. The returned stream
// is open once the server has answered 200 with an event-stream body.
func (c *Client) OpenStream(ctx context.Context, token string, houseID int) (EventStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StreamURL(token, houseID), nil)
	if err != nil {
		return nil, fmt.Errorf("creating stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		// The URL carries the credential; report only the house.
		return nil, fmt.Errorf("opening stream for house %d: %w", houseID, unwrapURLError(err))
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("opening stream for house %d: %w", houseID, apiErrorFrom(resp))
	}

	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err != nil || mediaType != "text/event-stream" {
		resp.Body.Close()
		return nil, fmt.Errorf("opening stream for house %d: %w: content type %q",
			houseID, ErrBadResponse, resp.Header.Get("Content-Type"))
	}

	return &eventStream{body: resp.Body, reader: sse.NewReader(resp.Body)}, nil
}

// unwrapURLError strips the *url.Error wrapper, whose message repeats the
// request URL including its token query parameter.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
