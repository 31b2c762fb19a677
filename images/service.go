package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer(instrumentationName)

// CreateImageInput carries an upload. Size is the declared length and may
// be 0 when the caller does not know it.
type CreateImageInput struct {
	Body             io.Reader
	OriginalFilename string
	ContentType      string
	Size             int64
	Tags             []string
	Description      string
}

// Service implements the image use cases on top of a BlobStore and a
// RecordStore. It keeps no per-request state and is safe for concurrent
// use.
//
// The two stores are not updated transactionally. Create writes the blob
// before the record and Delete removes the blob before the record; a
// failure between the two steps is reported but not rolled back.
type Service struct {
	blobs   BlobStore
	records RecordStore
	cache   RecordCache
	urlTTL  time.Duration
	log     logrus.FieldLogger

	meterProvider metric.MeterProvider
	metrics       *serviceMetrics

	newID func() string
	now   func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithCache puts a read-through cache in front of record lookups in Get.
func WithCache(c RecordCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithURLTTL overrides DefaultURLTTL.
func WithURLTTL(ttl time.Duration) Option {
	return func(s *Service) { s.urlTTL = ttl }
}

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) { s.log = log }
}

// WithMeterProvider sets where operation metrics are reported. The
// default is the global provider at construction time.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// NewService creates a new image service
func NewService(blobs BlobStore, records RecordStore, opts ...Option) *Service {
	s := &Service{
		blobs:         blobs,
		records:       records,
		cache:         &NoOpCache{},
		urlTTL:        DefaultURLTTL,
		log:           logrus.StandardLogger(),
		meterProvider: otel.GetMeterProvider(),
		newID:         func() string { return uuid.New().String() },
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	m, err := newServiceMetrics(s.meterProvider)
	if err != nil {
		s.log.Warnf("Failed to create metrics instruments, metrics disabled: %v", err)
		m, _ = newServiceMetrics(noop.NewMeterProvider())
	}
	s.metrics = m
	return s
}

// Create uploads the image bytes and then records their metadata.
func (s *Service) Create(ctx context.Context, in CreateImageInput) (_ *ImageRecord, err error) {
	ctx, span := tracer.Start(ctx, "images.create")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.observe(ctx, "create", start, err) }()

	id := s.newID()
	filename := objectKey(id, in.OriginalFilename)
	span.SetAttributes(attribute.String("image.id", id))
	log := s.log.WithFields(logrus.Fields{"id": id, "filename": filename})

	if _, err := s.blobs.Put(ctx, filename, in.Body, in.ContentType); err != nil {
		return nil, spanError(span, err)
	}

	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	record := &ImageRecord{
		ID:          id,
		Filename:    filename,
		Size:        in.Size,
		ContentType: in.ContentType,
		CreatedAt:   s.now().UTC().Format(time.RFC3339Nano),
		Tags:        tags,
		Description: in.Description,
	}

	if err := s.records.Put(ctx, record); err != nil {
		// The blob stays behind without a record.
		log.Warnf("Record write failed after blob upload, blob is orphaned: %v", err)
		return nil, spanError(span, err)
	}

	record.DownloadURL = s.presign(ctx, filename)
	log.Info("Created image")
	return record, nil
}

// Get returns the record for id with a fresh download URL, or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (_ *ImageRecord, err error) {
	ctx, span := tracer.Start(ctx, "images.get", trace.WithAttributes(attribute.String("image.id", id)))
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.observe(ctx, "get", start, err) }()

	record, err := s.lookup(ctx, id)
	if err != nil {
		return nil, spanError(span, err)
	}

	record.DownloadURL = s.presign(ctx, record.Filename)
	return record, nil
}

// List scans the record store with the filter and attaches a fresh
// download URL to every result. Results come in store order.
func (s *Service) List(ctx context.Context, filter ImageFilter) (_ []*ImageRecord, err error) {
	ctx, span := tracer.Start(ctx, "images.list")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.observe(ctx, "list", start, err) }()

	p := BuildPredicate(filter)
	span.SetAttributes(
		attribute.String("filter.filename", p.FilenameContains),
		attribute.String("filter.tag", p.Tag),
	)

	records, err := s.records.Scan(ctx, p)
	if err != nil {
		return nil, spanError(span, err)
	}

	// One presign per record.
	for _, r := range records {
		r.DownloadURL = s.presign(ctx, r.Filename)
	}

	span.SetAttributes(attribute.Int("image.count", len(records)))
	return records, nil
}

// Delete removes the blob and then the record for id. It returns
// ErrNotFound without touching the blob store when no record exists.
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	ctx, span := tracer.Start(ctx, "images.delete", trace.WithAttributes(attribute.String("image.id", id)))
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.observe(ctx, "delete", start, err) }()

	record, err := s.records.Get(ctx, id)
	if err != nil {
		return spanError(span, err)
	}

	if err := s.blobs.Delete(ctx, record.Filename); err != nil {
		return spanError(span, err)
	}

	if err := s.records.Delete(ctx, id); err != nil {
		s.log.WithField("id", id).Warnf("Record delete failed after blob delete: %v", err)
		return spanError(span, err)
	}

	if err := s.cache.DeleteRecord(ctx, id); err != nil {
		s.log.WithField("id", id).Warnf("Failed to invalidate cached record: %v", err)
	}

	s.log.WithField("id", id).Info("Deleted image")
	return nil
}

// lookup reads a record through the cache.
func (s *Service) lookup(ctx context.Context, id string) (*ImageRecord, error) {
	cached, err := s.cache.GetRecord(ctx, id)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, errCacheMiss) {
		s.log.WithField("id", id).Warnf("Failed to read cached record: %v", err)
	}

	record, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetRecord(ctx, record); err != nil {
		s.log.WithField("id", id).Warnf("Failed to cache record: %v", err)
	}
	return record, nil
}

func (s *Service) presign(ctx context.Context, key string) string {
	return s.blobs.Presign(ctx, key, s.urlTTL)
}

// objectKey derives the storage key "<id>.<ext>" from the client's
// filename, where ext follows the last dot. Without a dot ext is empty.
func objectKey(id, originalFilename string) string {
	var ext string
	if i := strings.LastIndex(originalFilename, "."); i >= 0 {
		ext = originalFilename[i+1:]
	}
	return fmt.Sprintf("%s.%s", id, ext)
}

func spanError(span trace.Span, err error) error {
	if !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
