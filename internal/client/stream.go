package client

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// StreamEvent is one server-sent event from /v1/events/stream. ID is zero
// for the initial state snapshot.
type StreamEvent struct {
	ID    uint64
	Topic string
	Data  []byte
}

// Stream opens the server's event stream filtered to the given topic
// patterns (all topics when empty). Events arrive on the returned channel,
// which closes when ctx is cancelled or the connection drops.
func (c *HTTPClient) Stream(ctx context.Context, topics []string, lastEventID uint64) (<-chan StreamEvent, error) {
	u := c.baseURL + "/v1/events/stream"
	if len(topics) > 0 {
		u += "?topics=" + url.QueryEscape(strings.Join(topics, ","))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatUint(lastEventID, 10))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "event stream unavailable"}
	}

	ch := make(chan StreamEvent, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var cur StreamEvent
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
		for sc.Scan() {
			line := sc.Text()
			switch {
			case line == "":
				if cur.Topic == "" && cur.Data == nil {
					continue
				}
				select {
				case ch <- cur:
				case <-ctx.Done():
					return
				}
				cur = StreamEvent{}
			case strings.HasPrefix(line, ":"):
				// comment / keepalive
			case strings.HasPrefix(line, "id:"):
				cur.ID, _ = strconv.ParseUint(strings.TrimSpace(line[3:]), 10, 64)
			case strings.HasPrefix(line, "event:"):
				cur.Topic = strings.TrimSpace(line[6:])
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimPrefix(line[5:], " ")
				if cur.Data != nil {
					cur.Data = append(cur.Data, '\n')
				}
				cur.Data = append(cur.Data, data...)
			}
		}
	}()
	return ch, nil
}
