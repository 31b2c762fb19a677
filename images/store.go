package images

import (
	"context"
	"io"
	"time"
)

// DefaultURLTTL is how long a presigned download link stays valid.
const DefaultURLTTL = 3600 * time.Second

// ImageRecord is the metadata kept for one uploaded image.
// DownloadURL is never persisted; it is filled in on every read.
type ImageRecord struct {
	ID          string   `json:"id" bson:"id" msgpack:"id"`
	Filename    string   `json:"filename" bson:"filename" msgpack:"filename"`
	Size        int64    `json:"size" bson:"size" msgpack:"size"`
	ContentType string   `json:"content_type" bson:"content_type" msgpack:"content_type"`
	CreatedAt   string   `json:"created_at" bson:"created_at" msgpack:"created_at"`
	Tags        []string `json:"tags" bson:"tags" msgpack:"tags"`
	Description string   `json:"description,omitempty" bson:"description,omitempty" msgpack:"description,omitempty"`
	DownloadURL string   `json:"download_url,omitempty" bson:"-" msgpack:"-"`
}

// clone returns a copy that shares nothing mutable with r.
func (r *ImageRecord) clone() *ImageRecord {
	c := *r
	if r.Tags != nil {
		c.Tags = make([]string, len(r.Tags))
		copy(c.Tags, r.Tags)
	}
	return &c
}

// BlobStore defines the interface for blob storage operations
type BlobStore interface {
	// Put uploads body under key, overwriting any existing object, and
	// returns the key it was stored under.
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)

	// Delete removes the object. A missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Presign returns a read link valid for ttl, or "" if one could not be
	// generated. It does not check that the object exists.
	Presign(ctx context.Context, key string, ttl time.Duration) string
}

// RecordStore defines the interface for image metadata operations
type RecordStore interface {
	// Put writes the full record, replacing any record with the same ID.
	Put(ctx context.Context, record *ImageRecord) error

	// Get returns ErrNotFound when no record has the given ID.
	Get(ctx context.Context, id string) (*ImageRecord, error)

	// Delete removes the record. A missing ID is not an error.
	Delete(ctx context.Context, id string) error

	// Scan reads every record and returns those matching p, in whatever
	// order the backing store yields them.
	Scan(ctx context.Context, p Predicate) ([]*ImageRecord, error)
}
