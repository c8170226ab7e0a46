package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Open when no blob exists under the name.
var ErrNotFound = errors.New("blob not found")

// Info describes a stored blob.
type Info struct {
	Size        int64
	ModTime     time.Time
	ContentType string
}

// Store is the blob side of the registry: raw file content keyed by the
// record name. Save must replace an existing blob of the same name
// atomically, so a reader never observes a half-written file.
type Store interface {
	Save(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, name string) (io.ReadSeekCloser, *Info, error)
	Delete(ctx context.Context, name string) error
	Ping(ctx context.Context) error
}
