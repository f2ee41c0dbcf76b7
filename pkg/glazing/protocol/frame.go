// Package protocol encodes and decodes the chat endpoint's wire format.
//
// Inbound frames are JSON objects tagged by "type". Outbound control frames
// (ping, pong) use the same envelope, but user text is sent as the raw
// string without any envelope.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FrameType is the value of the "type" tag.
type FrameType string

const (
	FrameTypeEcho   FrameType = "echo"
	FrameTypeSystem FrameType = "system"
	FrameTypePing   FrameType = "ping"
	FrameTypePong   FrameType = "pong"
)

// ErrUntaggedFrame is returned by Decode for valid JSON that is not an
// object with a non-empty "type" field.
var ErrUntaggedFrame = errors.New("frame has no type tag")

// Frame is a decoded inbound frame.
type Frame struct {
	Type      FrameType `json:"type"`
	Message   string    `json:"message,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
	// SessionID is attached by the server to some frames. It is informational only.
	SessionID string `json:"session_id,omitempty"`
}

// Known reports whether the frame type is one the connection acts on.
func (f Frame) Known() bool {
	switch f.Type {
	case FrameTypeEcho, FrameTypeSystem, FrameTypePing, FrameTypePong:
		return true
	}
	return false
}

// Time parses the frame timestamp. The server emits ISO-8601 without a zone
// offset, which is read as UTC.
func (f Frame) Time() (time.Time, bool) {
	return ParseTimestamp(f.Timestamp)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC 3339 as well as zone-less ISO-8601 timestamps.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Decode parses one inbound text frame.
func Decode(data []byte) (Frame, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}

	tag, ok := raw["type"]
	if !ok {
		return Frame{}, ErrUntaggedFrame
	}

	var frame Frame
	if err := json.Unmarshal(tag, &frame.Type); err != nil || frame.Type == "" {
		return Frame{}, ErrUntaggedFrame
	}

	// Optional fields are best effort; a wrongly typed one is left empty.
	decodeOptionalString(raw, "message", &frame.Message)
	decodeOptionalString(raw, "timestamp", &frame.Timestamp)
	decodeOptionalString(raw, "session_id", &frame.SessionID)

	return frame, nil
}

func decodeOptionalString(raw map[string]json.RawMessage, key string, dst *string) {
	if v, ok := raw[key]; ok {
		_ = json.Unmarshal(v, dst)
	}
}

// controlFrame is the outbound envelope for ping and pong.
type controlFrame struct {
	Type      FrameType `json:"type"`
	Timestamp string    `json:"timestamp"`
}

// TimestampLayout is the ISO-8601 form used on outbound frames.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// EncodeControl builds a ping or pong envelope stamped with at.
func EncodeControl(frameType FrameType, at time.Time) ([]byte, error) {
	if frameType != FrameTypePing && frameType != FrameTypePong {
		return nil, fmt.Errorf("unsupported control frame type %q", frameType)
	}
	return json.Marshal(controlFrame{
		Type:      frameType,
		Timestamp: at.UTC().Format(TimestampLayout),
	})
}

// EncodeUserText returns the outbound bytes for user-authored text. The text
// is sent as is, without an envelope.
func EncodeUserText(text string) []byte {
	return []byte(text)
}
