package modelfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestVerify_Missing(t *testing.T) {
	res := Verify(filepath.Join(t.TempDir(), "nope.bin"), "deadbeef")
	if res.Status != StatusMissing {
		t.Fatalf("expected StatusMissing, got %v", res.Status)
	}
}

func TestVerify_NoChecksum(t *testing.T) {
	path := writeTempFile(t, []byte("model bytes"))
	res := Verify(path, "")
	if res.Status != StatusNoChecksum {
		t.Fatalf("expected StatusNoChecksum, got %v", res.Status)
	}
}

func TestVerify_Ok(t *testing.T) {
	path := writeTempFile(t, []byte("model bytes"))
	want := Verify(path, "").Digest

	res := Verify(path, want)
	if res.Status != StatusOk {
		t.Fatalf("expected StatusOk, got %v", res.Status)
	}
}

func TestVerify_Corrupt(t *testing.T) {
	path := writeTempFile(t, []byte("model bytes"))
	res := Verify(path, "0000000000000000000000000000000000000000000000000000000000000000")
	if res.Status != StatusCorrupt {
		t.Fatalf("expected StatusCorrupt, got %v", res.Status)
	}
}

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
