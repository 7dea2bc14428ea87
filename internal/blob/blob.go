// Package blob stores the raw bytes of uploaded images.
//
// A blob is addressed by an opaque reference returned from Put. References are
// derived from the owning group and task so that a reference is never reused
// for a different task.
package blob

import (
	"context"
	"errors"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrBlobNotFound is returned when no blob exists under a reference.
var ErrBlobNotFound = errors.New("blob not found")

// ErrInvalidRef is returned for references that do not name a blob this
// storage could have produced.
var ErrInvalidRef = errors.New("invalid blob reference")

// Storage persists image bytes.
type Storage interface {
	// Put stores data for the task and returns its reference.
	Put(ctx context.Context, groupID, taskID uuid.UUID, filename, contentType string, data []byte) (string, error)

	// Get returns the bytes stored under ref, or ErrBlobNotFound.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Delete removes the blob and reports whether it existed.
	Delete(ctx context.Context, ref string) (bool, error)
}

const maxFilenameLength = 100

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename reduces an uploaded filename to a safe base name.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if len(name) > maxFilenameLength {
		name = name[len(name)-maxFilenameLength:]
	}
	if name == "" {
		return "image"
	}
	return name
}

// ObjectKey builds the reference for a task's image:
// <group>/images/<task>_<sanitized filename>.
func ObjectKey(groupID, taskID uuid.UUID, filename string) string {
	return groupID.String() + "/images/" + taskID.String() + "_" + SanitizeFilename(filename)
}

// validateRef rejects empty, absolute and escaping references.
func validateRef(ref string) error {
	if ref == "" || strings.HasPrefix(ref, "/") || strings.Contains(ref, "\\") {
		return ErrInvalidRef
	}
	if path.Clean(ref) != ref {
		return ErrInvalidRef
	}
	for _, part := range strings.Split(ref, "/") {
		if part == ".." || part == "." {
			return ErrInvalidRef
		}
	}
	return nil
}
