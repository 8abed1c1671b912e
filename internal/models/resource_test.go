package models

import (
	"errors"
	"testing"
	"time"

	"github.com/fruitsalade/nimbus/internal/tree"
)

func TestNewFile(t *testing.T) {
	r, err := NewFile("/alice/docs/a.txt", "alice", VisibilityPrivate, 2048)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if r.Parent != "/alice/docs" {
		t.Errorf("Parent = %q", r.Parent)
	}
	if r.Name() != "a.txt" {
		t.Errorf("Name = %q", r.Name())
	}
	if r.BlobKey() != "alice/docs/a.txt" {
		t.Errorf("BlobKey = %q", r.BlobKey())
	}
	if !r.IsFile() || r.IsDirectory() {
		t.Error("expected a file")
	}
	if !r.Cost.IsZero() {
		t.Errorf("Cost = %s, want 0", r.Cost)
	}
}

func TestNewDirectoryRejectsBadInput(t *testing.T) {
	if _, err := NewDirectory("alice", "alice", VisibilityPublic); !errors.Is(err, tree.ErrInvalidPath) {
		t.Errorf("relative path: err = %v", err)
	}
	if _, err := NewDirectory("/alice", "alice", Visibility("SECRET")); err == nil {
		t.Error("expected error for unknown visibility")
	}
	if _, err := NewFile("/alice/a", "alice", VisibilityPublic, -1); err == nil {
		t.Error("expected error for negative size")
	}
}

func TestRoot(t *testing.T) {
	root := NewRoot()
	if !root.IsRoot() || !root.IsDirectory() {
		t.Errorf("unexpected root %+v", root)
	}
	if root.Parent != "/" {
		t.Errorf("root parent = %q", root.Parent)
	}
}

func TestLastUsedAndClone(t *testing.T) {
	r, _ := NewFile("/alice/a", "alice", VisibilityPublic, 1)
	if !r.LastUsed().Equal(r.CreatedAt) {
		t.Error("LastUsed should fall back to CreatedAt")
	}

	accessed := r.CreatedAt.Add(time.Hour)
	r.LastAccessedAt = &accessed
	if !r.LastUsed().Equal(accessed) {
		t.Error("LastUsed should prefer LastAccessedAt")
	}

	c := r.Clone()
	*c.LastAccessedAt = accessed.Add(time.Hour)
	if !r.LastAccessedAt.Equal(accessed) {
		t.Error("Clone shares LastAccessedAt")
	}
}
