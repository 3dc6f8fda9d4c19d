package valueobject

import (
	"bytes"
	"testing"
)

func TestParseCommandRoundTrip(t *testing.T) {
	cmd := Command{V: EventVersion, RequestID: "req-1", Command: CommandHostPing}
	encoded, err := encodeWithNewline(cmd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	parsed, err := ParseCommand(bytes.TrimRight(encoded, "\n"), EventVersion)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	reEncoded, err := encodeWithNewline(parsed)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(encoded, reEncoded) {
		t.Fatalf("round-trip mismatch: %s != %s", encoded, reEncoded)
	}
}

func TestParseCommandUnsupportedVersion(t *testing.T) {
	line := []byte(`{"v":2,"request_id":"r1","command":"host.ping"}`)
	_, err := ParseCommand(line, EventVersion)
	if err != ErrUnsupportedVersion {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestParseCommandEmptyRequestID(t *testing.T) {
	line := []byte(`{"v":1,"request_id":"","command":"host.ping"}`)
	_, err := ParseCommand(line, EventVersion)
	if err != ErrInvalidEnvelope {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestParseCommandUnknownCommandName(t *testing.T) {
	line := []byte(`{"v":1,"request_id":"r1","command":"not.a.real.command"}`)
	_, err := ParseCommand(line, EventVersion)
	if err != ErrInvalidEnvelope {
		t.Fatalf("expected ErrInvalidEnvelope for unknown command, got %v", err)
	}
}

func TestEncodeResponseEndsWithNewline(t *testing.T) {
	resp := NewErrorResponse("r1", "boom")
	data, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		t.Fatalf("expected trailing newline, got %q", data)
	}
}

func TestEncodeEventEndsWithNewline(t *testing.T) {
	evt, err := NewEvent("e1", "orb.state_changed", map[string]string{"kind": "flash"})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	data, err := EncodeEvent(evt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if data[len(data)-1] != '\n' {
		t.Fatalf("expected trailing newline, got %q", data)
	}
}
