package filesource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseS3(t *testing.T) {
	tests := []struct {
		ref, bucket, key string
		ok               bool
	}{
		{"s3://docs/in/report.pdf", "docs", "in/report.pdf", true},
		{"s3://docs/", "", "", false},
		{"s3://", "", "", false},
		{"/tmp/report.pdf", "", "", false},
	}
	for _, tt := range tests {
		b, k, ok := parseS3(tt.ref)
		if b != tt.bucket || k != tt.key || ok != tt.ok {
			t.Errorf("parseS3(%q): expected (%q, %q, %v), got (%q, %q, %v)", tt.ref, tt.bucket, tt.key, tt.ok, b, k, ok)
		}
	}
}

func TestReadLocal(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "report.pdf")
	if err := os.WriteFile(p, []byte("%PDF"), 0644); err != nil {
		t.Fatal(err)
	}

	s := New(S3Config{}, 0)
	name, data, err := s.Read(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "report.pdf" || string(data) != "%PDF" {
		t.Errorf("unexpected result %q %q", name, data)
	}

	if _, _, err := s.Read(context.Background(), dir); err == nil {
		t.Error("expected error reading a directory")
	}
	if _, _, err := s.Read(context.Background(), filepath.Join(dir, "missing")); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestMaxSize(t *testing.T) {
	s := New(S3Config{}, 4)
	if _, err := s.ReadFrom(strings.NewReader("12345")); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
	data, err := s.ReadFrom(strings.NewReader("1234"))
	if err != nil || string(data) != "1234" {
		t.Errorf("expected exactly max bytes to pass, got %q (%v)", data, err)
	}
}
