package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var rec map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("audit line is not JSON: %v (%s)", err, buf.String())
	}
	return rec
}

func TestLogger_LogSuccess(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, true)

	l.LogSuccess(OpStreamComplete, "session-0123456789", "tax-helper", "stream-1")

	rec := decode(t, &buf)
	if rec["operation"] != "stream.complete" {
		t.Errorf("operation = %v", rec["operation"])
	}
	if rec["success"] != true {
		t.Errorf("success = %v, want true", rec["success"])
	}
	if rec["session_id"] != "sess...6789" {
		t.Errorf("session_id = %v, want masked", rec["session_id"])
	}
	if rec["agent"] != "tax-helper" || rec["stream_id"] != "stream-1" {
		t.Errorf("agent/stream = %v/%v", rec["agent"], rec["stream_id"])
	}
}

func TestLogger_LogFailure(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, true)

	l.LogFailure(OpStreamError, "short", "echo", "", errors.New("model overloaded"))

	rec := decode(t, &buf)
	if rec["success"] != false {
		t.Errorf("success = %v, want false", rec["success"])
	}
	if rec["error"] != "model overloaded" {
		t.Errorf("error = %v", rec["error"])
	}
	if rec["session_id"] != "***" {
		t.Errorf("session_id = %v, want ***", rec["session_id"])
	}
	if _, ok := rec["stream_id"]; ok {
		t.Error("empty stream_id should be omitted")
	}
}

func TestLogger_Disabled(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, false)
	l.LogSuccess(OpStreamSend, "s", "a", "")
	if buf.Len() != 0 {
		t.Errorf("disabled logger wrote %q", buf.String())
	}

	l.SetEnabled(true)
	l.Log(&Event{Operation: OpStreamCancel, Details: map[string]interface{}{"server_cancel": "failed"}})
	rec := decode(t, &buf)
	if rec["details"] != `{"server_cancel":"failed"}` {
		t.Errorf("details = %v", rec["details"])
	}
}
