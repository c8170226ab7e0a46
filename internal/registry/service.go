package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fileregistry/backend/internal/blob"
	"github.com/fileregistry/backend/internal/cache"
	"github.com/fileregistry/backend/internal/db"
	"github.com/fileregistry/backend/internal/logger"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ConflictError reports an upload or rename that collides with an
// existing record's name.
type ConflictError struct {
	ExistingID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("file name already taken by id %d", e.ExistingID)
}

// StorageFailure wraps a blob-store error so handlers can tell storage
// trouble apart from metadata trouble.
type StorageFailure struct {
	Err error
}

func (e *StorageFailure) Error() string { return "storage failure: " + e.Err.Error() }
func (e *StorageFailure) Unwrap() error { return e.Err }

// EventSink receives registry change notifications. A nil sink is valid.
type EventSink interface {
	Publish(eventType string, id int64, name string)
}

// Service keeps the files table and the blob store in agreement: a record
// exists if and only if its blob does. Every mutation is ordered so that a
// failure mid-way never leaves a record pointing at a missing blob; the
// worst reachable state is an orphaned blob, which violates nothing a
// reader can observe.
type Service struct {
	files  *db.FileRepository
	blobs  blob.Store
	cache  *cache.Cache
	events EventSink
}

func NewService(files *db.FileRepository, blobs blob.Store, cache *cache.Cache, events EventSink) *Service {
	return &Service{
		files:  files,
		blobs:  blobs,
		cache:  cache,
		events: events,
	}
}

// normalizeName strips any path components from a client-supplied filename
// and NFC-normalizes it, so visually identical unicode names collide on the
// unique constraint instead of producing near-duplicate blobs.
func normalizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	return norm.NFC.String(name)
}

// extensionOf returns the substring after the last dot, or "".
func extensionOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 && i < len(name)-1 {
		return name[i+1:]
	}
	return ""
}

// Upload registers a new file. The metadata row is inserted first: its
// unique name constraint is the arbiter under concurrent uploads of the
// same name. Only once the row exists is the blob written; if that write
// fails, the row is removed again.
func (s *Service) Upload(ctx context.Context, originalName, mimeType string, size int64, content io.Reader) (*db.FileRecord, error) {
	name := normalizeName(originalName)
	if name == "" || name == "." {
		return nil, fmt.Errorf("invalid file name %q", originalName)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	record := &db.FileRecord{
		Name:      name,
		Extension: extensionOf(name),
		MimeType:  mimeType,
		Size:      size,
		StoredAt:  time.Now(),
	}

	if err := s.files.Create(ctx, record); err != nil {
		if errors.Is(err, db.ErrFileExists) {
			return nil, s.conflictFor(ctx, name)
		}
		return nil, err
	}

	if err := s.blobs.Save(ctx, name, content, size, mimeType); err != nil {
		if delErr := s.files.Delete(ctx, record.ID); delErr != nil {
			logger.Error(ctx, "failed to roll back record after blob write failure", delErr,
				map[string]interface{}{"id": record.ID, "name": name})
		}
		return nil, &StorageFailure{Err: err}
	}

	s.publish("uploaded", record.ID, name)
	return record, nil
}

// Get returns the record for id, going through the cache when one is
// configured.
func (s *Service) Get(ctx context.Context, id int64) (*db.FileRecord, error) {
	if rec, ok := s.cache.GetRecord(ctx, id); ok {
		return rec, nil
	}

	rec, err := s.files.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cache.SetRecord(ctx, rec)
	return rec, nil
}

// List pages over records in insertion order, 1-indexed. An empty slice is
// the explicit empty-page result, not an error.
func (s *Service) List(ctx context.Context, page, pageSize int) ([]db.FileRecord, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	return s.files.List(ctx, pageSize, (page-1)*pageSize)
}

// Update replaces a record's content and metadata. The blob store is only
// ever written under a name this record owns: a same-name update leans on
// Save's atomic-replace contract, and a rename claims the new name through
// the row update's unique constraint before the first blob write. Writing
// the blob first would let a failed rename destroy the blob of whichever
// record already holds the target name.
func (s *Service) Update(ctx context.Context, id int64, originalName, mimeType string, size int64, content io.Reader) (*db.FileRecord, error) {
	old, err := s.files.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	name := normalizeName(originalName)
	if name == "" || name == "." {
		return nil, fmt.Errorf("invalid file name %q", originalName)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	record := &db.FileRecord{
		ID:        id,
		Name:      name,
		Extension: extensionOf(name),
		MimeType:  mimeType,
		Size:      size,
		StoredAt:  time.Now(),
	}

	if name == old.Name {
		if err := s.blobs.Save(ctx, name, content, size, mimeType); err != nil {
			return nil, &StorageFailure{Err: err}
		}
		if err := s.files.Update(ctx, record); err != nil {
			if errors.Is(err, db.ErrFileNotFound) {
				// Row vanished under us; remove the blob we just wrote so
				// the name doesn't linger as an orphan.
				if delErr := s.blobs.Delete(ctx, name); delErr != nil {
					logger.Warn(ctx, "failed to remove blob for vanished record",
						map[string]interface{}{"id": id, "name": name, "error": delErr.Error()})
				}
			}
			return nil, err
		}
	} else {
		if err := s.files.Update(ctx, record); err != nil {
			if errors.Is(err, db.ErrFileExists) {
				return nil, s.conflictFor(ctx, name)
			}
			return nil, err
		}

		if err := s.blobs.Save(ctx, name, content, size, mimeType); err != nil {
			// The name is claimed but the blob write failed; restore the
			// old row so the record keeps pointing at its existing blob.
			if revErr := s.files.Update(ctx, old); revErr != nil {
				logger.Error(ctx, "failed to restore record after blob write failure", revErr,
					map[string]interface{}{"id": id, "name": old.Name})
			}
			return nil, &StorageFailure{Err: err}
		}

		if err := s.blobs.Delete(ctx, old.Name); err != nil {
			// The new pair is consistent; the stale blob is an orphan.
			logger.Warn(ctx, "failed to delete previous blob",
				map[string]interface{}{"id": id, "name": old.Name, "error": err.Error()})
		}
	}

	s.cache.Invalidate(ctx, id)
	s.publish("updated", id, name)
	return record, nil
}

// Delete removes the row first and the blob only after the row deletion
// succeeded. An unknown id returns db.ErrFileNotFound with no filesystem
// mutation at all.
func (s *Service) Delete(ctx context.Context, id int64) error {
	rec, err := s.files.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.files.Delete(ctx, id); err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, rec.Name); err != nil {
		// Row is gone; an orphaned blob breaks no reader-visible invariant.
		logger.Warn(ctx, "failed to delete blob for removed record",
			map[string]interface{}{"id": id, "name": rec.Name, "error": err.Error()})
	}

	s.cache.Invalidate(ctx, id)
	s.publish("deleted", id, rec.Name)
	return nil
}

// Open resolves id to its blob for streaming.
func (s *Service) Open(ctx context.Context, id int64) (*db.FileRecord, io.ReadSeekCloser, *blob.Info, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}

	content, info, err := s.blobs.Open(ctx, rec.Name)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			// Record without blob: the invariant this service exists to
			// uphold has been violated out-of-band.
			logger.Error(ctx, "record exists but blob is missing", err,
				map[string]interface{}{"id": id, "name": rec.Name})
		}
		return nil, nil, nil, &StorageFailure{Err: err}
	}

	return rec, content, info, nil
}

// conflictFor resolves the id of the record holding name. If the holder
// vanished in between, the conflict is reported without an id.
func (s *Service) conflictFor(ctx context.Context, name string) error {
	existing, err := s.files.GetByName(ctx, name)
	if err != nil {
		return &ConflictError{}
	}
	return &ConflictError{ExistingID: existing.ID}
}

func (s *Service) publish(eventType string, id int64, name string) {
	if s.events != nil {
		s.events.Publish(eventType, id, name)
	}
}
