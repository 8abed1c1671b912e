// Package tree provides helpers for working with slash-delimited resource paths.
package tree

import (
	"errors"
	"fmt"
	"strings"
)

// Root is the path of the tree root.
const Root = "/"

// ErrInvalidPath is returned for paths that are not absolute and clean.
var ErrInvalidPath = errors.New("invalid path")

// Validate checks that p is absolute, has no empty, "." or ".." elements
// and no trailing slash (except for the root).
func Validate(p string) error {
	if p == Root {
		return nil
	}
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("%w: %q must start with /", ErrInvalidPath, p)
	}
	for _, el := range strings.Split(p[1:], "/") {
		switch el {
		case "":
			return fmt.Errorf("%w: %q has an empty element", ErrInvalidPath, p)
		case ".", "..":
			return fmt.Errorf("%w: %q has a relative element", ErrInvalidPath, p)
		}
	}
	return nil
}

// Normalize resolves p relative to the home directory of owner.
// Normalize("alice", "") and Normalize("alice", "/") are both "/alice".
func Normalize(owner, p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "/" + owner
	}
	return "/" + owner + "/" + p
}

// Home returns the home directory path of owner.
func Home(owner string) string {
	return Normalize(owner, Root)
}

// Parent returns the parent of p. The parent of the root and of top-level
// entries is the root.
func Parent(p string) string {
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return Root
	}
	return p[:i]
}

// Name returns the last element of p.
func Name(p string) string {
	if p == Root {
		return ""
	}
	return p[strings.LastIndex(p, "/")+1:]
}

// BuildChildPath constructs a child path from parent + name.
func BuildChildPath(parentPath, name string) string {
	if parentPath == Root {
		return "/" + name
	}
	return parentPath + "/" + name
}

// Element is one step of a path walk from the root.
type Element struct {
	Parent string
	Path   string
	Name   string
}

// Elements splits p into the chain of elements leading to it,
// e.g. "/x/y" gives [{"/", "/x", "x"}, {"/x", "/x/y", "y"}].
func Elements(p string) []Element {
	var out []Element
	parent := Root
	for _, name := range strings.Split(p, "/") {
		if name == "" {
			continue
		}
		path := BuildChildPath(parent, name)
		out = append(out, Element{Parent: parent, Path: path, Name: name})
		parent = path
	}
	return out
}

// BlobKey maps a resource path to its object storage key.
func BlobKey(p string) string {
	return strings.TrimPrefix(p, "/")
}

// PathForKey maps an object storage key back to a resource path.
func PathForKey(key string) string {
	return "/" + key
}

// HumanBytes formats a byte count with binary units.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
