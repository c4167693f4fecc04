// Package objstore defines the object storage collaborator holding raw
// uploaded policy documents, plus a filesystem-backed implementation.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrNotFound is returned by Fetch when no object exists under the key.
var ErrNotFound = errors.New("object not found")

// Store is the object storage contract consumed by the ingestion pipeline.
type Store interface {
	// Fetch returns the raw bytes stored under key, or ErrNotFound.
	Fetch(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key with the given content type.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// GenerateKey builds a storage key for an uploaded document:
// requests/<requestID>/<timestamp>_<sanitized filename>.
func GenerateKey(requestID, filename string) string {
	sanitized := unsafeKeyChars.ReplaceAllString(filename, "_")
	return fmt.Sprintf("requests/%s/%d_%s", requestID, time.Now().UnixMilli(), sanitized)
}
