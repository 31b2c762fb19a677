package images

import (
	"context"
)

// RecordCache is an optional read-through cache for point lookups.
// Download URLs are never cached.
type RecordCache interface {
	GetRecord(ctx context.Context, id string) (*ImageRecord, error)
	SetRecord(ctx context.Context, record *ImageRecord) error
	DeleteRecord(ctx context.Context, id string) error
}

// NoOpCache implements the RecordCache interface but does nothing
type NoOpCache struct{}

// GetRecord always misses
func (c *NoOpCache) GetRecord(ctx context.Context, id string) (*ImageRecord, error) {
	return nil, errCacheMiss
}

// SetRecord does nothing
func (c *NoOpCache) SetRecord(ctx context.Context, record *ImageRecord) error {
	return nil
}

// DeleteRecord does nothing
func (c *NoOpCache) DeleteRecord(ctx context.Context, id string) error {
	return nil
}
