// Automod component for reading skill file contents by storage reference.
//
// Includes an interface and implementations using S3-compatible object storage and in-process memory. Individual files may be missing (ErrNotFound); callers decide whether that is fatal. Any other error, including ErrTooLarge, means the blob exists but could not be read.
package blobstore

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("blob not found")
	ErrTooLarge = errors.New("blob too large")
)

type BlobStore interface {
	// Returns the full contents of the referenced blob, or ErrNotFound if there is no such blob.
	Get(ctx context.Context, ref string) ([]byte, error)
}
