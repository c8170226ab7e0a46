package registry

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/fileregistry/backend/internal/blob"
	"github.com/fileregistry/backend/internal/db"
)

var fileColumns = []string{"id", "name", "extension", "mime_type", "size", "date_downloaded"}

type recordedEvent struct {
	eventType string
	id        int64
	name      string
}

type fakeSink struct {
	events []recordedEvent
}

func (s *fakeSink) Publish(eventType string, id int64, name string) {
	s.events = append(s.events, recordedEvent{eventType, id, name})
}

type failingStore struct{}

func (failingStore) Save(context.Context, string, io.Reader, int64, string) error {
	return errors.New("disk full")
}

func (failingStore) Open(context.Context, string) (io.ReadSeekCloser, *blob.Info, error) {
	return nil, nil, errors.New("disk full")
}

func (failingStore) Delete(context.Context, string) error { return errors.New("disk full") }
func (failingStore) Ping(context.Context) error           { return errors.New("disk full") }

// newTestService wires a Service to a sqlmock-backed repository and a real
// filesystem store in a temp dir.
func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, string, *fakeSink) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	dir := t.TempDir()
	store, err := blob.NewFSStore(dir)
	if err != nil {
		t.Fatalf("failed to create blob store: %v", err)
	}

	sink := &fakeSink{}
	files := db.NewFileRepository(&db.DB{DB: conn})
	return NewService(files, store, nil, sink), mock, dir, sink
}

func blobExists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "report.pdf", "report.pdf"},
		{"whitespace", "  report.pdf  ", "report.pdf"},
		{"path stripped", "../../etc/passwd", "passwd"},
		{"nested path", "a/b/c.txt", "c.txt"},
		{"nfc normalization", "café.txt", "café.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeName(tt.in); got != tt.want {
				t.Errorf("normalizeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtensionOf(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "pdf"},
		{"archive.tar.gz", "gz"},
		{"README", ""},
		{"trailing.", ""},
		{".bashrc", "bashrc"},
	}

	for _, tt := range tests {
		if got := extensionOf(tt.in); got != tt.want {
			t.Errorf("extensionOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUploadStoresRecordAndBlob(t *testing.T) {
	svc, mock, dir, sink := newTestService(t)

	mock.ExpectQuery("INSERT INTO files").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	content := "hello"
	rec, err := svc.Upload(context.Background(), "greeting.txt", "text/plain", int64(len(content)), strings.NewReader(content))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if rec.ID != 1 || rec.Name != "greeting.txt" || rec.Extension != "txt" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if !blobExists(dir, "greeting.txt") {
		t.Error("blob was not written")
	}
	if len(sink.events) != 1 || sink.events[0].eventType != "uploaded" || sink.events[0].id != 1 {
		t.Errorf("unexpected events: %+v", sink.events)
	}
}

func TestUploadDefaultsContentType(t *testing.T) {
	svc, mock, _, _ := newTestService(t)

	mock.ExpectQuery("INSERT INTO files").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	rec, err := svc.Upload(context.Background(), "data.bin", "", 1, strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if rec.MimeType != "application/octet-stream" {
		t.Errorf("MimeType = %q, want application/octet-stream", rec.MimeType)
	}
}

func TestUploadNameConflict(t *testing.T) {
	svc, mock, dir, sink := newTestService(t)

	mock.ExpectQuery("INSERT INTO files").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "files_name_key"})
	mock.ExpectQuery("SELECT id, name, extension, mime_type, size, date_downloaded FROM files WHERE name").
		WillReturnRows(sqlmock.NewRows(fileColumns).
			AddRow(int64(3), "greeting.txt", "txt", "text/plain", int64(5), time.Now()))

	_, err := svc.Upload(context.Background(), "greeting.txt", "text/plain", 5, strings.NewReader("hello"))

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Upload error = %v, want ConflictError", err)
	}
	if conflict.ExistingID != 3 {
		t.Errorf("ExistingID = %d, want 3", conflict.ExistingID)
	}
	if blobExists(dir, "greeting.txt") {
		t.Error("conflicting upload must not write a blob")
	}
	if len(sink.events) != 0 {
		t.Errorf("conflicting upload must not publish events, got %+v", sink.events)
	}
}

func TestUploadRejectsInvalidName(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	for _, name := range []string{"", "   ", ".", "./"} {
		if _, err := svc.Upload(context.Background(), name, "text/plain", 1, strings.NewReader("x")); err == nil {
			t.Errorf("Upload(%q) should fail", name)
		}
	}
}

func TestUploadBlobFailureRollsBackRecord(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	files := db.NewFileRepository(&db.DB{DB: conn})
	svc := NewService(files, failingStore{}, nil, nil)

	mock.ExpectQuery("INSERT INTO files").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("DELETE FROM files WHERE id").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err = svc.Upload(context.Background(), "doomed.txt", "text/plain", 1, strings.NewReader("x"))

	var storage *StorageFailure
	if !errors.As(err, &storage) {
		t.Fatalf("Upload error = %v, want StorageFailure", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("record was not rolled back: %v", err)
	}
}

func TestDeleteRemovesRowThenBlob(t *testing.T) {
	svc, mock, dir, sink := newTestService(t)

	if err := os.WriteFile(filepath.Join(dir, "doc.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to seed blob: %v", err)
	}

	mock.ExpectQuery("SELECT id, name, extension, mime_type, size, date_downloaded FROM files WHERE id").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(fileColumns).
			AddRow(int64(2), "doc.txt", "txt", "text/plain", int64(1), time.Now()))
	mock.ExpectExec("DELETE FROM files WHERE id").
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := svc.Delete(context.Background(), 2); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if blobExists(dir, "doc.txt") {
		t.Error("blob should be removed")
	}
	if len(sink.events) != 1 || sink.events[0].eventType != "deleted" {
		t.Errorf("unexpected events: %+v", sink.events)
	}
}

func TestDeleteUnknownIDTouchesNothing(t *testing.T) {
	svc, mock, dir, sink := newTestService(t)

	if err := os.WriteFile(filepath.Join(dir, "bystander.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to seed blob: %v", err)
	}

	mock.ExpectQuery("SELECT id, name, extension, mime_type, size, date_downloaded FROM files WHERE id").
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	err := svc.Delete(context.Background(), 99)
	if !errors.Is(err, db.ErrFileNotFound) {
		t.Errorf("Delete error = %v, want ErrFileNotFound", err)
	}

	if !blobExists(dir, "bystander.txt") {
		t.Error("unrelated blob must survive a failed delete")
	}
	if len(sink.events) != 0 {
		t.Errorf("failed delete must not publish events, got %+v", sink.events)
	}
}

func TestUpdateRenameDeletesOldBlob(t *testing.T) {
	svc, mock, dir, sink := newTestService(t)

	if err := os.WriteFile(filepath.Join(dir, "old.txt"), []byte("old"), 0o644); err != nil {
		t.Fatalf("failed to seed blob: %v", err)
	}

	mock.ExpectQuery("SELECT id, name, extension, mime_type, size, date_downloaded FROM files WHERE id").
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(fileColumns).
			AddRow(int64(4), "old.txt", "txt", "text/plain", int64(3), time.Now()))
	mock.ExpectExec("UPDATE files SET").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := svc.Update(context.Background(), 4, "new.txt", "text/plain", 3, strings.NewReader("new"))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if rec.Name != "new.txt" {
		t.Errorf("Name = %q, want new.txt", rec.Name)
	}
	if !blobExists(dir, "new.txt") {
		t.Error("new blob should exist")
	}
	if blobExists(dir, "old.txt") {
		t.Error("old blob should be gone after rename")
	}
	if len(sink.events) != 1 || sink.events[0].eventType != "updated" {
		t.Errorf("unexpected events: %+v", sink.events)
	}
}

func TestUpdateSameNameKeepsSingleBlob(t *testing.T) {
	svc, mock, dir, _ := newTestService(t)

	if err := os.WriteFile(filepath.Join(dir, "doc.txt"), []byte("v1"), 0o644); err != nil {
		t.Fatalf("failed to seed blob: %v", err)
	}

	mock.ExpectQuery("SELECT id, name, extension, mime_type, size, date_downloaded FROM files WHERE id").
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(fileColumns).
			AddRow(int64(4), "doc.txt", "txt", "text/plain", int64(2), time.Now()))
	mock.ExpectExec("UPDATE files SET").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := svc.Update(context.Background(), 4, "doc.txt", "text/plain", 2, strings.NewReader("v2")); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "doc.txt"))
	if err != nil {
		t.Fatalf("failed to read blob: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("blob content = %q, want v2", got)
	}
}

func TestUpdateRenameConflictPreservesExistingBlob(t *testing.T) {
	svc, mock, dir, sink := newTestService(t)

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("A-content"), 0o644); err != nil {
		t.Fatalf("failed to seed blob: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("B-content"), 0o644); err != nil {
		t.Fatalf("failed to seed blob: %v", err)
	}

	mock.ExpectQuery("SELECT id, name, extension, mime_type, size, date_downloaded FROM files WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(fileColumns).
			AddRow(int64(1), "a.txt", "txt", "text/plain", int64(9), time.Now()))
	mock.ExpectExec("UPDATE files SET").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "files_name_key"})
	mock.ExpectQuery("SELECT id, name, extension, mime_type, size, date_downloaded FROM files WHERE name").
		WillReturnRows(sqlmock.NewRows(fileColumns).
			AddRow(int64(2), "b.txt", "txt", "text/plain", int64(9), time.Now()))

	_, err := svc.Update(context.Background(), 1, "b.txt", "text/plain", 9, strings.NewReader("A-v2"))

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Update error = %v, want ConflictError", err)
	}
	if conflict.ExistingID != 2 {
		t.Errorf("ExistingID = %d, want 2", conflict.ExistingID)
	}

	gotB, err := os.ReadFile(filepath.Join(dir, "b.txt"))
	if err != nil {
		t.Fatalf("name holder's blob must survive a failed rename: %v", err)
	}
	if string(gotB) != "B-content" {
		t.Errorf("name holder's blob = %q, want B-content", gotB)
	}

	gotA, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("renamed record's blob must survive a failed rename: %v", err)
	}
	if string(gotA) != "A-content" {
		t.Errorf("renamed record's blob = %q, want A-content", gotA)
	}

	if len(sink.events) != 0 {
		t.Errorf("failed rename must not publish events, got %+v", sink.events)
	}
}

func TestUpdateRenameBlobFailureRestoresRow(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	files := db.NewFileRepository(&db.DB{DB: conn})
	svc := NewService(files, failingStore{}, nil, nil)

	oldStoredAt := time.Now()
	mock.ExpectQuery("SELECT id, name, extension, mime_type, size, date_downloaded FROM files WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(fileColumns).
			AddRow(int64(1), "a.txt", "txt", "text/plain", int64(9), oldStoredAt))
	// the rename claims the new name
	mock.ExpectExec("UPDATE files SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// the blob write fails, so the row is restored to its old values
	mock.ExpectExec("UPDATE files SET").
		WithArgs("a.txt", "txt", "text/plain", int64(9), oldStoredAt, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err = svc.Update(context.Background(), 1, "b.txt", "text/plain", 9, strings.NewReader("A-v2"))

	var storage *StorageFailure
	if !errors.As(err, &storage) {
		t.Fatalf("Update error = %v, want StorageFailure", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("row was not restored: %v", err)
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	svc, mock, dir, _ := newTestService(t)

	mock.ExpectQuery("SELECT id, name, extension, mime_type, size, date_downloaded FROM files WHERE id").
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := svc.Update(context.Background(), 99, "doc.txt", "text/plain", 1, strings.NewReader("x"))
	if !errors.Is(err, db.ErrFileNotFound) {
		t.Errorf("Update error = %v, want ErrFileNotFound", err)
	}
	if blobExists(dir, "doc.txt") {
		t.Error("failed update must not write a blob")
	}
}

func TestListClampsPaging(t *testing.T) {
	tests := []struct {
		name       string
		page       int
		pageSize   int
		wantLimit  int
		wantOffset int
	}{
		{"defaults", 0, 0, DefaultPageSize, 0},
		{"first page explicit", 1, 10, 10, 0},
		{"second page", 2, 10, 10, 10},
		{"oversized page size", 2, 500, MaxPageSize, MaxPageSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mock, _, _ := newTestService(t)

			mock.ExpectQuery("SELECT id, name, extension, mime_type, size, date_downloaded FROM files ORDER BY id").
				WithArgs(tt.wantLimit, tt.wantOffset).
				WillReturnRows(sqlmock.NewRows(fileColumns))

			records, err := svc.List(context.Background(), tt.page, tt.pageSize)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(records) != 0 {
				t.Errorf("len = %d, want 0", len(records))
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unexpected query args: %v", err)
			}
		})
	}
}

func TestOpenMissingBlobIsStorageFailure(t *testing.T) {
	svc, mock, _, _ := newTestService(t)

	mock.ExpectQuery("SELECT id, name, extension, mime_type, size, date_downloaded FROM files WHERE id").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(fileColumns).
			AddRow(int64(5), "ghost.txt", "txt", "text/plain", int64(1), time.Now()))

	_, _, _, err := svc.Open(context.Background(), 5)

	var storage *StorageFailure
	if !errors.As(err, &storage) {
		t.Fatalf("Open error = %v, want StorageFailure", err)
	}
	if !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("StorageFailure should wrap blob.ErrNotFound, got %v", storage.Err)
	}
}

func TestOpenStreamsContent(t *testing.T) {
	svc, mock, dir, _ := newTestService(t)

	if err := os.WriteFile(filepath.Join(dir, "doc.txt"), []byte("payload"), 0o644); err != nil {
		t.Fatalf("failed to seed blob: %v", err)
	}

	mock.ExpectQuery("SELECT id, name, extension, mime_type, size, date_downloaded FROM files WHERE id").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(fileColumns).
			AddRow(int64(5), "doc.txt", "txt", "text/plain", int64(7), time.Now()))

	rec, content, info, err := svc.Open(context.Background(), 5)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer content.Close()

	if rec.Name != "doc.txt" {
		t.Errorf("Name = %q, want doc.txt", rec.Name)
	}
	if info.Size != 7 {
		t.Errorf("Size = %d, want 7", info.Size)
	}

	got, err := io.ReadAll(content)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("content = %q, want payload", got)
	}
}
