package solana

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Event filter: classifies raw logsSubscribe frames
// ---------------------------------------------------------------------------

// FrameKind classifies one inbound websocket frame.
type FrameKind int

const (
	FrameMalformed FrameKind = iota
	FrameConfirmation
	FrameError
	FrameNotification
)

func (k FrameKind) String() string {
	switch k {
	case FrameConfirmation:
		return "confirmation"
	case FrameError:
		return "error"
	case FrameNotification:
		return "notification"
	default:
		return "malformed"
	}
}

// Frame is a parsed inbound frame.
type Frame struct {
	Kind           FrameKind
	SubscriptionID int64
	Error          string
	Event          LogEvent
}

type wsEnvelope struct {
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
	Params *struct {
		Subscription int64 `json:"subscription"`
		Result       struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature string   `json:"signature"`
				Logs      []string `json:"logs"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

var jsonNull = []byte("null")

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, jsonNull)
}

// ParseFrame decodes a raw frame. Malformed input yields FrameMalformed and
// the decode error; it never panics.
func ParseFrame(raw []byte) (Frame, error) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Frame{Kind: FrameMalformed}, fmt.Errorf("ws: decode frame: %w", err)
	}

	if present(env.Error) {
		return Frame{Kind: FrameError, Error: string(env.Error)}, nil
	}
	if env.Result != nil {
		f := Frame{Kind: FrameConfirmation}
		_ = json.Unmarshal(env.Result, &f.SubscriptionID)
		return f, nil
	}
	if env.Params == nil {
		return Frame{Kind: FrameMalformed}, fmt.Errorf("ws: frame has no params")
	}

	value := env.Params.Result.Value
	return Frame{
		Kind:           FrameNotification,
		SubscriptionID: env.Params.Subscription,
		Event: LogEvent{
			Signature: Signature(value.Signature),
			Logs:      value.Logs,
			Slot:      env.Params.Result.Context.Slot,
		},
	}, nil
}

// HasMarker reports whether any log line contains marker.
func HasMarker(logs []string, marker string) bool {
	for _, l := range logs {
		if strings.Contains(l, marker) {
			return true
		}
	}
	return false
}

// FilterMessage returns the transaction signature of a pool-creation
// notification, or false for confirmations, errors, malformed frames and
// notifications without the marker or a signature.
func FilterMessage(raw []byte, marker string) (Signature, bool) {
	frame, err := ParseFrame(raw)
	if err != nil || frame.Kind != FrameNotification {
		return "", false
	}
	return matchEvent(frame.Event, marker)
}

func matchEvent(ev LogEvent, marker string) (Signature, bool) {
	if ev.Signature == "" || !HasMarker(ev.Logs, marker) {
		return "", false
	}
	return ev.Signature, true
}
