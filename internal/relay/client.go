// Package relay manages the working relay set and moves signed events to
// and from relays over short-lived websocket connections.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satsplit/satsplit/internal/nostr"
)

const (
	// ConnectTimeout bounds the websocket handshake.
	ConnectTimeout = 5 * time.Second

	// AckTimeout bounds the wait for an OK acknowledgement after sending
	// an event.
	AckTimeout = 10 * time.Second

	// QueryTimeout bounds a REQ subscription's wait for EOSE.
	QueryTimeout = 10 * time.Second
)

func dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay %s: %w", url, err)
	}
	return conn, nil
}

// Query opens a connection to one relay, sends a REQ with the filter, and
// collects events until the relay signals EOSE or the timeout elapses.
func Query(ctx context.Context, url string, filter nostr.Filter) ([]*nostr.Event, error) {
	conn, err := dial(ctx, url)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	subID := fmt.Sprintf("sub-%d", time.Now().UnixNano())
	frame, err := nostr.ReqFrame(subID, filter)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return nil, fmt.Errorf("failed to send query to %s: %w", url, err)
	}

	deadline := time.Now().Add(QueryTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	var events []*nostr.Event
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read from %s failed: %w", url, err)
		}
		parsed, err := nostr.ParseFrame(data)
		if err != nil {
			// Skip frames we cannot parse; the relay may speak
			// extensions this client does not.
			continue
		}
		switch parsed.Type {
		case "EVENT":
			if parsed.SubID == subID && parsed.Event != nil {
				events = append(events, parsed.Event)
			}
		case "EOSE":
			if parsed.SubID == subID {
				closeFrame, _ := nostr.CloseFrame(subID)
				_ = conn.WriteMessage(websocket.TextMessage, closeFrame)
				return events, nil
			}
		}
	}
}

// Probe tests basic connectivity to a relay: the handshake either completes
// within ConnectTimeout or the relay is reported unreachable.
func Probe(ctx context.Context, url string) error {
	conn, err := dial(ctx, url)
	if err != nil {
		return err
	}
	return conn.Close()
}
