// Package objstore uploads receipt images attached to offline invoices.
package objstore

import "context"

// Uploader stores an image and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, name string, contentType string, data []byte) (string, error)
}

// Noop is used when no bucket is configured; invoices are applied without
// an image URL.
type Noop struct{}

func (Noop) Upload(ctx context.Context, name string, contentType string, data []byte) (string, error) {
	return "", nil
}
