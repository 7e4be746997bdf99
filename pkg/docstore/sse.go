package docstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/medleyhq/medley/internal/logging"
	"go.uber.org/zap"
)

// Subscribe connects to the store's SSE change feed and streams events for
// the given document types. The connection is re-established with backoff
// after transport failures; the error channel reports each failure but the
// stream keeps going until ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, types []string) (<-chan ChangeEvent, <-chan error) {
	events := make(chan ChangeEvent, 100)
	errs := make(chan error, 1)

	go c.subscribeLoop(ctx, types, events, errs)

	return events, errs
}

func (c *Client) subscribeLoop(ctx context.Context, types []string, events chan<- ChangeEvent, errs chan<- error) {
	defer close(events)
	defer close(errs)

	const (
		reconnectMin = 1 * time.Second
		reconnectMax = 30 * time.Second
	)
	reconnectDelay := reconnectMin

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := c.consumeFeed(ctx, types, events)
		if ctx.Err() != nil {
			return
		}

		logging.Error("change feed disconnected",
			zap.Error(err),
			zap.Duration("reconnect_in", reconnectDelay))
		select {
		case errs <- err:
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}

		reconnectDelay *= 2
		if reconnectDelay > reconnectMax {
			reconnectDelay = reconnectMax
		}
	}
}

func (c *Client) consumeFeed(ctx context.Context, types []string, events chan<- ChangeEvent) error {
	feedURL := c.baseURL + "/api/v1/events"
	if len(types) > 0 {
		feedURL += "?types=" + url.QueryEscape(strings.Join(types, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.applyAuth(req)

	// The feed connection outlives the client's request timeout.
	httpClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &RequestError{StatusCode: resp.StatusCode, Message: "change feed rejected"}
	}

	logging.Info("change feed connected", zap.String("url", feedURL))

	scanner := bufio.NewScanner(resp.Body)
	var eventType string
	var data string

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()

		if line == "" {
			if data != "" {
				var ev ChangeEvent
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					logging.Warn("malformed change event dropped", zap.Error(err))
				} else {
					if ev.Type == "" {
						ev.Type = ChangeType(eventType)
					}
					select {
					case events <- ev:
					default:
						logging.Debug("change event dropped (channel full)")
					}
				}
			}
			eventType = ""
			data = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return fmt.Errorf("connection closed")
}
