package agent

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingType is returned for frames that decode but carry no type
var ErrMissingType = errors.New("frame has no type")

// ParseFrame decodes a JSON frame into an Event.
// Frames with an unrecognised type are returned as-is; callers decide
// whether to act on them (see EventType.Known).
func ParseFrame(data []byte) (*Event, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	eventType, _ := raw["type"].(string)
	if eventType == "" {
		return nil, ErrMissingType
	}

	event := &Event{Type: EventType(eventType)}

	switch event.Type {
	case EventConnected:
		event.UserID = stringField(raw, "userId")
	case EventStreamChunk:
		event.Chunk = stringField(raw, "chunk")
	case EventError:
		event.Error = stringField(raw, "error")
		if event.Error == "" {
			event.Error = stringField(raw, "message")
		}
	}

	return event, nil
}

// stringField returns raw[key] as a string. Numeric ids are formatted
// rather than dropped since dispatchers differ in how they encode them.
func stringField(raw map[string]interface{}, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

// EncodeRequest serialises an execute request for the socket transport
func EncodeRequest(req *ExecuteRequest) ([]byte, error) {
	out := *req
	out.Type = MessageExecuteAgent
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("encode execute request: %w", err)
	}
	return data, nil
}

// EncodePing serialises a liveness probe
func EncodePing() []byte {
	data, _ := json.Marshal(PingFrame{Type: MessagePing})
	return data
}
