package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satsplit/satsplit/internal/nostr"
)

// ErrNoRelaysAccepted is returned when a publish reaches no relay that
// accepts the event.
var ErrNoRelaysAccepted = errors.New("no relays accepted the event")

// Result records one relay's verdict on a published event.
type Result struct {
	URL      string `json:"url"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// PublishOutcome aggregates per-relay results. Success is true iff at least
// one relay accepted: an at-least-one-of-many consistency model, chosen for
// availability over durability.
type PublishOutcome struct {
	Success bool     `json:"success"`
	EventID string   `json:"eventId,omitempty"`
	Relays  []Result `json:"relays"`
}

// Publisher transmits signed events to relays. Stateless per call: each
// publish opens fresh connections, and a relay that neither accepts nor
// rejects within the ack timeout is recorded as a timeout failure, not
// retried. Retrying the whole publish is the caller's decision.
type Publisher struct {
	ackTimeout time.Duration
}

// NewPublisher creates a Publisher with the standard ack timeout.
func NewPublisher() *Publisher {
	return &Publisher{ackTimeout: AckTimeout}
}

// NewPublisherWithTimeout creates a Publisher with a custom ack timeout
// (tests).
func NewPublisherWithTimeout(ackTimeout time.Duration) *Publisher {
	return &Publisher{ackTimeout: ackTimeout}
}

// Publish sends the signed event to every URL concurrently and waits for
// all verdicts. Slow or dead relays never block the others past the ack
// timeout.
func (p *Publisher) Publish(ctx context.Context, ev *nostr.Event, urls []string) PublishOutcome {
	results := make([]Result, len(urls))

	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			results[i] = p.publishOne(ctx, ev, url)
		}(i, url)
	}
	wg.Wait()

	outcome := PublishOutcome{Relays: results}
	for _, r := range results {
		if r.Accepted {
			outcome.Success = true
			outcome.EventID = ev.ID
			break
		}
	}

	verdict := "rejected"
	if outcome.Success {
		verdict = "accepted"
	}
	publishEvents.WithLabelValues(verdict).Inc()
	slog.Info("publish finished",
		"event_id", ev.ID,
		"kind", ev.Kind,
		"relays", len(urls),
		"success", outcome.Success,
	)
	return outcome
}

func (p *Publisher) publishOne(ctx context.Context, ev *nostr.Event, url string) Result {
	conn, err := dial(ctx, url)
	if err != nil {
		relayResults.WithLabelValues("connect_error").Inc()
		return Result{URL: url, Error: err.Error()}
	}
	defer conn.Close()

	frame, err := nostr.EventFrame(ev)
	if err != nil {
		return Result{URL: url, Error: err.Error()}
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		relayResults.WithLabelValues("write_error").Inc()
		return Result{URL: url, Error: err.Error()}
	}

	deadline := time.Now().Add(p.ackTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return Result{URL: url, Error: err.Error()}
	}

	// Read until the OK for our event id; other traffic is skipped.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			relayResults.WithLabelValues("timeout").Inc()
			return Result{URL: url, Error: "timed out waiting for acknowledgement"}
		}
		parsed, err := nostr.ParseFrame(data)
		if err != nil {
			continue
		}
		if parsed.Type != "OK" || parsed.OK.EventID != ev.ID {
			continue
		}
		if parsed.OK.Accepted {
			relayResults.WithLabelValues("accepted").Inc()
			return Result{URL: url, Accepted: true}
		}
		relayResults.WithLabelValues("rejected").Inc()
		msg := parsed.OK.Message
		if msg == "" {
			msg = "rejected by relay"
		}
		return Result{URL: url, Error: msg}
	}
}
