package images

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/sirupsen/logrus"
)

// Closer releases resources held by a Service built from configuration.
type Closer func(ctx context.Context) error

// NewServiceFromConfig creates the stores named by config and the Service
// on top of them.
func NewServiceFromConfig(ctx context.Context, config *Config, log logrus.FieldLogger) (*Service, Closer, error) {
	var closers []Closer
	closeAll := func(ctx context.Context) error {
		var first error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](ctx); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	var sess *session.Session
	awsSession := func() (*session.Session, error) {
		if sess != nil {
			return sess, nil
		}
		var err error
		sess, err = NewAWSSession(config)
		return sess, err
	}

	var blobs BlobStore
	switch config.BlobStore.Backend {
	case BackendS3:
		s, err := awsSession()
		if err != nil {
			return nil, nil, err
		}
		blobs, err = NewS3BlobStore(s, config.BlobStore.BucketName, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create S3 blob store: %w", err)
		}
	case BackendMemory:
		blobs = NewMemoryBlobStore(config.BlobStore.BucketName)
	default:
		return nil, nil, fmt.Errorf("unknown blob store backend: %q", config.BlobStore.Backend)
	}

	var records RecordStore
	switch config.RecordStore.Backend {
	case BackendDynamoDB:
		s, err := awsSession()
		if err != nil {
			return nil, nil, err
		}
		records, err = NewDynamoDBRecordStore(s, config.RecordStore.TableName, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create DynamoDB record store: %w", err)
		}
	case BackendDocumentDB:
		store, err := NewDocumentDBRecordStore(ctx, config.RecordStore.DocumentDB, config.RecordStore.TableName, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create DocumentDB record store: %w", err)
		}
		records = store
		closers = append(closers, store.Close)
	case BackendMemory:
		records = NewMemoryRecordStore()
	default:
		return nil, nil, fmt.Errorf("unknown record store backend: %q", config.RecordStore.Backend)
	}

	// Use Redis if configured, otherwise NoOpCache
	var cache RecordCache = &NoOpCache{}
	if config.Cache.Address != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		redisCache, err := NewRedisCache(pingCtx, config.Cache.Address, time.Duration(config.Cache.TTLSeconds)*time.Second)
		if err != nil {
			log.Warnf("Failed to create Redis cache: %v. Continuing with NoOpCache.", err)
		} else {
			cache = redisCache
			closers = append(closers, func(context.Context) error { return redisCache.Close() })
			log.Infof("Connected to Redis cache at %s", config.Cache.Address)
		}
	}

	log.WithFields(logrus.Fields{
		"env":          config.Env,
		"blob_store":   config.BlobStore.Backend,
		"record_store": config.RecordStore.Backend,
	}).Debug("Image service configured")

	svc := NewService(blobs, records,
		WithCache(cache),
		WithURLTTL(config.BlobStore.URLTTL()),
		WithLogger(log),
	)
	return svc, closeAll, nil
}
