package blobfs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/formpilot/formpilot/internal/adapter/blobfs"
	"github.com/formpilot/formpilot/internal/domain"
)

func TestReadReturnsDocument(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "intake"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	want := []byte(`{"code":"intake","fields":[{"id":"name"}]}`)
	if err := os.WriteFile(filepath.Join(root, "intake", "v1.json"), want, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := blobfs.New(root)
	got, err := s.Read(context.Background(), "intake", "v1.json")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %s", got)
	}
}

func TestReadMissingDocumentIsNotFound(t *testing.T) {
	s := blobfs.New(t.TempDir())

	_, err := s.Read(context.Background(), "intake", "v9.json")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReadRejectsTraversal(t *testing.T) {
	s := blobfs.New(t.TempDir())

	tests := []struct {
		code, file string
	}{
		{"../etc", "passwd"},
		{"intake", "../secret.json"},
		{"intake", "a/b.json"},
		{"", "v1.json"},
		{"intake", ""},
	}
	for _, tt := range tests {
		_, err := s.Read(context.Background(), tt.code, tt.file)
		if err == nil {
			t.Errorf("Read(%q, %q) accepted a bad name", tt.code, tt.file)
		}
		if errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Read(%q, %q) mapped to NotFound, want validation error", tt.code, tt.file)
		}
	}
}
