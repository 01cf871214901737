package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/lambdaq/internal/events"
	"github.com/alfredjeanlab/lambdaq/internal/model"
	"github.com/alfredjeanlab/lambdaq/internal/ui"
)

const watchDebounce = 200 * time.Millisecond

func newWatchCmd(c *cli) *cobra.Command {
	var (
		natsURL string
		topics  []string
	)
	cmd := &cobra.Command{
		Use:     "watch",
		Short:   "Follow queue activity as it happens",
		Long:    "Follow queue activity. Uses NATS when --nats-url (or LAMBDAQ_NATS_URL) is set, otherwise the server's event stream.",
		GroupID: "views",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			if natsURL != "" {
				return watchNATS(ctx, c, natsURL)
			}
			return watchStream(ctx, c, topics)
		},
	}
	cmd.Flags().StringVar(&natsURL, "nats-url", os.Getenv("LAMBDAQ_NATS_URL"), "NATS server URL")
	cmd.Flags().StringSliceVar(&topics, "topic", nil, "topic patterns to follow (stream mode; default all)")
	return cmd
}

// Backoff between stream reconnects. Vars so tests can shorten them.
var (
	streamRetryMin = time.Second
	streamRetryMax = 30 * time.Second
)

// watchStream prints every event from the server's SSE stream, reconnecting
// with Last-Event-ID so nothing buffered server-side is missed. Only a failure
// to make the first connection is returned; later failures are retried with
// backoff until ctx is done.
func watchStream(ctx context.Context, c *cli, topics []string) error {
	var (
		lastID    uint64
		connected bool
		delay     = streamRetryMin
	)
	for {
		ch, err := c.http.Stream(ctx, topics, lastID)
		switch {
		case err != nil && !connected:
			return fmt.Errorf("opening event stream: %w", err)
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(c.err, "stream: reconnect failed: %v (retrying in %s)\n", err, delay)
		default:
			connected = true
			delay = streamRetryMin
			for ev := range ch {
				if ev.ID != 0 {
					lastID = ev.ID
				}
				printStreamEvent(c, ev.Topic, ev.Data)
			}
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(c.err, "stream: disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if err != nil {
			delay = min(delay*2, streamRetryMax)
		}
	}
}

// watchNATS subscribes to bus events, printing each one and re-querying the
// summary after a quiet period.
func watchNATS(ctx context.Context, c *cli, natsURL string) error {
	// reconnectCh signals a re-query after a disconnect, since events
	// published meanwhile were lost.
	reconnectCh := make(chan struct{}, 1)

	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			fmt.Fprintf(c.err, "nats: disconnected: %v\n", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			fmt.Fprintln(c.err, "nats: reconnected")
			select {
			case reconnectCh <- struct{}{}:
			default:
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(events.TopicAll)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	if err := printSummary(ctx, c); err != nil {
		return err
	}

	debounce := time.NewTimer(watchDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Topic != events.TopicStateChanged {
				printStreamEvent(c, msg.Topic, msg.Data)
			}
			debounce.Reset(watchDebounce)
		case <-reconnectCh:
			debounce.Reset(0)
		case <-debounce.C:
			if err := printSummary(ctx, c); err != nil {
				return err
			}
		}
	}
}

func printSummary(ctx context.Context, c *cli) error {
	sum, err := c.http.Summary(ctx)
	if err != nil {
		return fmt.Errorf("fetching summary: %w", err)
	}
	if c.jsonOutput {
		return printJSON(c.out, sum)
	}
	fmt.Fprintf(c.out, "%s %s\n", ui.RenderMuted(time.Now().Format("15:04:05")), formatState(sum.Pending, sum.Completed, sum.ActiveID))
	return nil
}

func formatState(pending, completed int, active string) string {
	if active == "" {
		active = "-"
	}
	return fmt.Sprintf("pending=%d completed=%d active=%s", pending, completed, active)
}

// printStreamEvent writes one line per event. JSON mode emits the topic and
// raw body as an object.
func printStreamEvent(c *cli, topic string, data []byte) {
	if c.jsonOutput {
		line, err := json.Marshal(struct {
			Topic string          `json:"topic"`
			Data  json.RawMessage `json:"data"`
		}{topic, json.RawMessage(data)})
		if err == nil {
			fmt.Fprintln(c.out, string(line))
		}
		return
	}
	fmt.Fprintf(c.out, "%s %-28s %s\n", ui.RenderMuted(time.Now().Format("15:04:05")), topic, describeEvent(topic, data))
}

// describeEvent renders the interesting part of a bus payload.
func describeEvent(topic string, data []byte) string {
	switch topic {
	case events.TopicStateChanged:
		var e events.StateChanged
		if json.Unmarshal(data, &e) == nil {
			return formatState(e.Pending, e.Completed, e.ActiveID)
		}
	case events.TopicInvocationQueued, events.TopicInvocationActivated,
		events.TopicInvocationSucceeded, events.TopicInvocationFailed:
		var e struct {
			Event *model.Event `json:"event"`
		}
		if json.Unmarshal(data, &e) == nil && e.Event != nil {
			return fmt.Sprintf("%s %s %s", e.Event.ID, ui.RenderStatus(e.Event.Status), ui.Truncate(e.Event.Payload, payloadColumnWidth))
		}
	case events.TopicInvocationDeleted:
		var e events.InvocationDeleted
		if json.Unmarshal(data, &e) == nil {
			return fmt.Sprintf("%s removed=%t", e.ID, e.Removed)
		}
	case events.TopicQueueCleared:
		var e events.QueueCleared
		if json.Unmarshal(data, &e) == nil {
			return e.Partition
		}
	}
	return string(data)
}
