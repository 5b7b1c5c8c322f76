// Package gcs exports prospects as CSV objects in a Cloud Storage
// bucket, as an alternative to Google Sheets.
package gcs

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/NofaBC/prospector-api/internal/prospector"
)

const defaultPrefix = "exports"

// csvHeader mirrors the sheet export column order.
var csvHeader = []string{
	"Name", "Phone", "Address", "Website", "Emails",
	"Rating", "Rating Count", "Categories", "Place ID",
}

// objectStore is the narrow bucket surface the sink needs, so the
// buffer lifecycle can be tested against an in-memory implementation.
type objectStore interface {
	read(ctx context.Context, object string) (data []byte, exists bool, err error)
	write(ctx context.Context, object string, data []byte) error
	makePublic(ctx context.Context, object string) error
}

// Sink implements prospector.ExportSink on a GCS bucket. Objects are not
// appendable, so accumulated rows are buffered and the object is
// rewritten whole on each append. Jobs survive process restarts, so an
// append for an object with no live buffer first rehydrates the buffer
// from the stored CSV; buffers are dropped once the export is published.
type Sink struct {
	store  objectStore
	bucket string
	prefix string
	logger *zap.Logger

	mu      sync.Mutex
	buffers map[string][][]string
}

// New builds a Sink against the given bucket using ambient credentials.
// Objects are created under the given name prefix.
func New(ctx context.Context, bucket, prefix string, logger *zap.Logger) (*Sink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return newSink(&bucketStore{client: client, bucket: bucket}, bucket, prefix, logger), nil
}

func newSink(store objectStore, bucket, prefix string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Sink{
		store:   store,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		logger:  logger,
		buffers: make(map[string][][]string),
	}
}

// CreateSheet allocates an object name for the export and writes the
// header row. The returned id is the object name.
func (s *Sink) CreateSheet(ctx context.Context, title string) (string, string, error) {
	object := fmt.Sprintf("%s/%s-%d.csv", s.prefix, slugify(title), time.Now().UnixNano())

	s.mu.Lock()
	s.buffers[object] = [][]string{csvHeader}
	s.mu.Unlock()

	if err := s.flush(ctx, object); err != nil {
		return "", "", err
	}
	url := fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, object)
	s.logger.Info("export object created",
		zap.String("bucket", s.bucket),
		zap.String("object", object),
	)
	return object, url, nil
}

// AppendRows adds rows to the export and rewrites the object.
func (s *Sink) AppendRows(ctx context.Context, object string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.ensureBuffer(ctx, object); err != nil {
		return err
	}
	s.mu.Lock()
	s.buffers[object] = append(s.buffers[object], rows...)
	s.mu.Unlock()
	return s.flush(ctx, object)
}

// MakePublic grants allUsers read access on the export object and drops
// the buffer; the job is complete, no further appends will come.
func (s *Sink) MakePublic(ctx context.Context, object string) error {
	if err := s.store.makePublic(ctx, object); err != nil {
		return fmt.Errorf("setting public acl: %w", err)
	}
	s.mu.Lock()
	delete(s.buffers, object)
	s.mu.Unlock()
	s.logger.Info("export object shared publicly",
		zap.String("bucket", s.bucket),
		zap.String("object", object),
	)
	return nil
}

// ensureBuffer rehydrates the buffer from the stored object when this
// process has no live buffer, so an append after a restart never
// overwrites previously exported rows.
func (s *Sink) ensureBuffer(ctx context.Context, object string) error {
	s.mu.Lock()
	_, ok := s.buffers[object]
	s.mu.Unlock()
	if ok {
		return nil
	}

	data, exists, err := s.store.read(ctx, object)
	if err != nil {
		return fmt.Errorf("reading export object: %w", err)
	}
	existing := [][]string{csvHeader}
	if exists {
		existing, err = parseCSV(data)
		if err != nil {
			return fmt.Errorf("parsing export object: %w", err)
		}
	}

	s.mu.Lock()
	if _, raced := s.buffers[object]; !raced {
		s.buffers[object] = existing
	}
	s.mu.Unlock()
	return nil
}

// flush rewrites the full CSV content of the object from the buffer.
func (s *Sink) flush(ctx context.Context, object string) error {
	s.mu.Lock()
	rows := make([][]string, len(s.buffers[object]))
	copy(rows, s.buffers[object])
	s.mu.Unlock()

	var buf bytes.Buffer
	if err := renderCSV(&buf, rows); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	if err := s.store.write(ctx, object, buf.Bytes()); err != nil {
		return fmt.Errorf("storing export object: %w", err)
	}
	return nil
}

// bucketStore implements objectStore on a real GCS bucket.
type bucketStore struct {
	client *storage.Client
	bucket string
}

func (b *bucketStore) read(ctx context.Context, object string) ([]byte, bool, error) {
	r, err := b.client.Bucket(b.bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *bucketStore) write(ctx context.Context, object string, data []byte) error {
	w := b.client.Bucket(b.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "text/csv"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (b *bucketStore) makePublic(ctx context.Context, object string) error {
	acl := b.client.Bucket(b.bucket).Object(object).ACL()
	return acl.Set(ctx, storage.AllUsers, storage.RoleReader)
}

// renderCSV writes the rows as CSV to w.
func renderCSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// parseCSV reads a stored export back into rows.
func parseCSV(data []byte) ([][]string, error) {
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// slugify lowercases the title and collapses everything outside
// [a-z0-9] into single hyphens.
func slugify(title string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

var _ prospector.ExportSink = (*Sink)(nil)
