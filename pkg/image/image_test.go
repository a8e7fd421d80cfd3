package image

import (
	"os"
	"path/filepath"
	"testing"

	"avaneesh/chip-updater/pkg/wire"
)

func TestLoad_ExactSizeSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.bin")
	data := make([]byte, wire.ChipFlashSize)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(got) != len(data) {
		t.Fatalf("Load returned %d bytes, want %d", len(got), len(data))
	}
	if got[1234] != data[1234] {
		t.Errorf("loaded content does not match written content at offset 1234")
	}
}

func TestLoad_WrongSizeFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short.bin")
	if err := os.WriteFile(path, make([]byte, 16), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected Load to reject an undersized image")
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.bin")); err == nil {
		t.Fatalf("expected Load to fail for a missing file")
	}
}
