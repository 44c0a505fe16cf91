// Package gcs addresses and moves image objects in Cloud Storage.
package gcs

import (
	"errors"
	"fmt"
	"strings"
)

// Scheme prefixes every object path exchanged between the services.
const Scheme = "gs://"

var (
	// ErrInvalidScheme is returned for paths that do not start with gs://.
	ErrInvalidScheme = errors.New("invalid gcs_path: expected gs:// scheme")
	// ErrMalformedPath is returned when the bucket or object name is missing.
	ErrMalformedPath = errors.New("invalid gcs_path: expected gs://<bucket>/<object>")
	// ErrObjectNotFound is returned when the referenced object does not exist.
	ErrObjectNotFound = errors.New("object not found")
)

// Path identifies one object in a bucket.
type Path struct {
	Bucket string
	Object string
}

// ParsePath splits gs://bucket/object into its parts.
func ParsePath(raw string) (Path, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, Scheme) {
		return Path{}, ErrInvalidScheme
	}
	bucket, object, ok := strings.Cut(strings.TrimPrefix(raw, Scheme), "/")
	if !ok || bucket == "" || object == "" {
		return Path{}, ErrMalformedPath
	}
	return Path{Bucket: bucket, Object: object}, nil
}

func (p Path) String() string {
	return fmt.Sprintf("%s%s/%s", Scheme, p.Bucket, p.Object)
}
