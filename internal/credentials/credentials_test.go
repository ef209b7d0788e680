package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStatic(t *testing.T) {
	token, err := Static("abc123").Token()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if token != "abc123" {
		t.Errorf("Expected abc123, got %q", token)
	}
}

func TestStatic_Empty(t *testing.T) {
	_, err := Static("").Token()
	if !errors.Is(err, ErrNoCredential) {
		t.Errorf("Expected ErrNoCredential, got %v", err)
	}
}

func TestFileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  bearer-token\n"), 0600); err != nil {
		t.Fatalf("Failed to write token file: %v", err)
	}

	p := &FileProvider{Path: path}
	token, err := p.Token()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if token != "bearer-token" {
		t.Errorf("Expected trimmed token, got %q", token)
	}
}

func TestFileProvider_Missing(t *testing.T) {
	p := &FileProvider{Path: filepath.Join(t.TempDir(), "absent")}
	_, err := p.Token()
	if !errors.Is(err, ErrNoCredential) {
		t.Errorf("Expected ErrNoCredential, got %v", err)
	}
}

func TestFileProvider_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("\n"), 0600); err != nil {
		t.Fatalf("Failed to write token file: %v", err)
	}

	p := &FileProvider{Path: path}
	_, err := p.Token()
	if !errors.Is(err, ErrNoCredential) {
		t.Errorf("Expected ErrNoCredential, got %v", err)
	}
}
