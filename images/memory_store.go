package images

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

// MemoryBlobStore keeps blobs in process. It backs the "memory" backend
// used for local runs and tests.
type MemoryBlobStore struct {
	bucket string

	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

// NewMemoryBlobStore creates an empty in-process blob store.
func NewMemoryBlobStore(bucket string) *MemoryBlobStore {
	return &MemoryBlobStore{
		bucket:  bucket,
		objects: make(map[string]memoryObject),
	}
}

// Put stores a copy of body under key.
func (s *MemoryBlobStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return "", blobFailure("put", fmt.Errorf("failed to read blob body: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memoryObject{data: buf.Bytes(), contentType: contentType}
	return key, nil
}

// Delete removes key if present.
func (s *MemoryBlobStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Presign returns a memory:// link carrying the expiry time.
func (s *MemoryBlobStore) Presign(ctx context.Context, key string, ttl time.Duration) string {
	u := url.URL{
		Scheme:   "memory",
		Host:     s.bucket,
		Path:     "/" + key,
		RawQuery: url.Values{"expires": {fmt.Sprint(time.Now().Add(ttl).Unix())}}.Encode(),
	}
	return u.String()
}

// Object returns the stored bytes and content type for key.
func (s *MemoryBlobStore) Object(key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj.data, obj.contentType, ok
}

// MemoryRecordStore keeps records in process and evaluates predicates
// with Predicate.Matches. Scan yields records in insertion order.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]*ImageRecord
	order   []string
}

// NewMemoryRecordStore creates an empty in-process record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]*ImageRecord)}
}

func (s *MemoryRecordStore) Put(ctx context.Context, record *ImageRecord) error {
	stored := record.clone()
	stored.DownloadURL = ""
	if stored.Tags == nil {
		stored.Tags = []string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; !ok {
		s.order = append(s.order, record.ID)
	}
	s.records[record.ID] = stored
	return nil
}

func (s *MemoryRecordStore) Get(ctx context.Context, id string) (*ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

func (s *MemoryRecordStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return nil
	}
	delete(s.records, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryRecordStore) Scan(ctx context.Context, p Predicate) ([]*ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*ImageRecord, 0, len(s.order))
	for _, id := range s.order {
		if r := s.records[id]; p.Matches(r) {
			records = append(records, r.clone())
		}
	}
	return records, nil
}
