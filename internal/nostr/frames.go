package nostr

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Filter is the subset of the REQ filter shape this client uses.
type Filter struct {
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
	IDs     []string `json:"ids,omitempty"`
	ETags   []string `json:"#e,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// OKResult is a relay's acknowledgement of a submitted event.
type OKResult struct {
	EventID  string
	Accepted bool
	Message  string
}

func marshalFrame(parts ...any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(parts); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// EventFrame builds the outbound ["EVENT", <event>] message.
func EventFrame(ev *Event) ([]byte, error) {
	return marshalFrame("EVENT", ev)
}

// ReqFrame builds the outbound ["REQ", <subId>, <filter>] message.
func ReqFrame(subID string, filter Filter) ([]byte, error) {
	return marshalFrame("REQ", subID, filter)
}

// CloseFrame builds the outbound ["CLOSE", <subId>] message.
func CloseFrame(subID string) ([]byte, error) {
	return marshalFrame("CLOSE", subID)
}

// Frame is one parsed inbound relay message.
type Frame struct {
	// Type is the frame label: "OK", "EVENT", "EOSE", "NOTICE", ...
	Type string

	// OK is set when Type == "OK".
	OK *OKResult

	// SubID is set for "EVENT" and "EOSE" frames.
	SubID string

	// Event is set when Type == "EVENT".
	Event *Event

	// Notice is set when Type == "NOTICE".
	Notice string
}

// ParseFrame decodes one inbound relay message. Unknown frame types are
// returned with only Type set so callers can skip them.
func ParseFrame(data []byte) (*Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("malformed relay frame: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty relay frame")
	}

	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return nil, fmt.Errorf("malformed frame label: %w", err)
	}

	frame := &Frame{Type: label}
	switch label {
	case "OK":
		// ["OK", <eventId>, <accepted>, <message>]
		if len(parts) < 3 {
			return nil, fmt.Errorf("short OK frame")
		}
		ok := &OKResult{}
		if err := json.Unmarshal(parts[1], &ok.EventID); err != nil {
			return nil, fmt.Errorf("malformed OK event id: %w", err)
		}
		if err := json.Unmarshal(parts[2], &ok.Accepted); err != nil {
			return nil, fmt.Errorf("malformed OK flag: %w", err)
		}
		if len(parts) > 3 {
			_ = json.Unmarshal(parts[3], &ok.Message)
		}
		frame.OK = ok

	case "EVENT":
		// ["EVENT", <subId>, <event>]
		if len(parts) < 3 {
			return nil, fmt.Errorf("short EVENT frame")
		}
		if err := json.Unmarshal(parts[1], &frame.SubID); err != nil {
			return nil, fmt.Errorf("malformed subscription id: %w", err)
		}
		ev := &Event{}
		if err := json.Unmarshal(parts[2], ev); err != nil {
			return nil, fmt.Errorf("malformed event: %w", err)
		}
		frame.Event = ev

	case "EOSE":
		// ["EOSE", <subId>]
		if len(parts) >= 2 {
			_ = json.Unmarshal(parts[1], &frame.SubID)
		}

	case "NOTICE":
		if len(parts) >= 2 {
			_ = json.Unmarshal(parts[1], &frame.Notice)
		}
	}

	return frame, nil
}
