// Package models defines the resource tree node shared by every subsystem.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fruitsalade/nimbus/internal/tree"
)

// Type distinguishes directories from files.
type Type string

const (
	TypeDirectory Type = "DIRECTORY"
	TypeFile      Type = "FILE"
)

// Visibility controls who may see a resource.
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// AllVisibilities is the filter that matches every resource.
var AllVisibilities = []Visibility{VisibilityPublic, VisibilityPrivate}

// Sort selects a directory listing order.
type Sort int

const (
	// SortDefault lists directories then files, each ordered by path.
	SortDefault Sort = iota
	// SortFavorite hoists favorite directories then favorite files
	// ahead of the default order.
	SortFavorite
)

// Resource is a node in the resource tree. Path, Parent, Type and Owner
// are fixed at construction and must not be reassigned.
type Resource struct {
	Path           string          `json:"path"`
	Parent         string          `json:"parent"`
	Type           Type            `json:"type"`
	Visibility     Visibility      `json:"visibility"`
	Owner          string          `json:"owner"`
	Size           int64           `json:"size"`
	Cost           decimal.Decimal `json:"cost"`
	Favorite       bool            `json:"favorite"`
	Description    string          `json:"description,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	LastAccessedAt *time.Time      `json:"lastAccessedAt,omitempty"`
}

func newResource(path, owner string, typ Type, visibility Visibility, size int64) (*Resource, error) {
	if err := tree.Validate(path); err != nil {
		return nil, err
	}
	if visibility != VisibilityPublic && visibility != VisibilityPrivate {
		return nil, fmt.Errorf("invalid visibility %q", visibility)
	}
	if size < 0 {
		return nil, fmt.Errorf("negative size %d", size)
	}
	return &Resource{
		Path:       path,
		Parent:     tree.Parent(path),
		Type:       typ,
		Visibility: visibility,
		Owner:      owner,
		Size:       size,
		Cost:       decimal.Zero,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// NewDirectory builds a directory record at path.
func NewDirectory(path, owner string, visibility Visibility) (*Resource, error) {
	return newResource(path, owner, TypeDirectory, visibility, 0)
}

// NewFile builds a file record at path holding size bytes.
func NewFile(path, owner string, visibility Visibility, size int64) (*Resource, error) {
	return newResource(path, owner, TypeFile, visibility, size)
}

// NewRoot builds the record of the tree root.
func NewRoot() *Resource {
	r, _ := NewDirectory(tree.Root, "", VisibilityPrivate)
	return r
}

func (r *Resource) IsDirectory() bool { return r.Type == TypeDirectory }
func (r *Resource) IsFile() bool      { return r.Type == TypeFile }
func (r *Resource) IsRoot() bool      { return r.Path == tree.Root }

// Name returns the last element of the path.
func (r *Resource) Name() string { return tree.Name(r.Path) }

// BlobKey returns the object storage key holding a file's bytes.
func (r *Resource) BlobKey() string { return tree.BlobKey(r.Path) }

// LastUsed is the last access time, falling back to creation time.
func (r *Resource) LastUsed() time.Time {
	if r.LastAccessedAt != nil {
		return *r.LastAccessedAt
	}
	return r.CreatedAt
}

// Clone returns a deep copy.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	c := *r
	if r.LastAccessedAt != nil {
		t := *r.LastAccessedAt
		c.LastAccessedAt = &t
	}
	return &c
}

func (r *Resource) String() string {
	return fmt.Sprintf("%s(%s)", r.Type, r.Path)
}
