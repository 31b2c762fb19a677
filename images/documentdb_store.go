package images

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DocumentDBRecordStore implements the RecordStore interface on a single
// DocumentDB (MongoDB compatible) collection keyed by "id".
type DocumentDBRecordStore struct {
	client *mongo.Client
	images *mongo.Collection
	log    logrus.FieldLogger
}

// documentDBImageItem represents an image document in DocumentDB
type documentDBImageItem struct {
	ID          string   `bson:"id"`
	Filename    string   `bson:"filename"`
	Size        int64    `bson:"size"`
	ContentType string   `bson:"content_type"`
	CreatedAt   string   `bson:"created_at"`
	Tags        []string `bson:"tags"`
	Description string   `bson:"description,omitempty"`
}

// NewDocumentDBRecordStore connects to DocumentDB and checks the
// connection before returning.
func NewDocumentDBRecordStore(ctx context.Context, cfg DocumentDBConfig, collection string, log logrus.FieldLogger) (*DocumentDBRecordStore, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("DocumentDB connection string is required")
	}

	clientOptions := options.Client().ApplyURI(cfg.ConnectionString)
	if cfg.TLSCAFile != "" {
		tlsConfig, err := createTLSConfig(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		clientOptions.SetTLSConfig(tlsConfig)
	}

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DocumentDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		if derr := client.Disconnect(ctx); derr != nil {
			log.Warnf("Failed to disconnect from DocumentDB: %v", derr)
		}
		return nil, fmt.Errorf("failed to ping DocumentDB: %w", err)
	}

	log.WithFields(logrus.Fields{
		"database":   cfg.DatabaseName,
		"collection": collection,
	}).Info("Connected to DocumentDB")

	return newDocumentDBRecordStore(client, client.Database(cfg.DatabaseName).Collection(collection), log), nil
}

func newDocumentDBRecordStore(client *mongo.Client, coll *mongo.Collection, log logrus.FieldLogger) *DocumentDBRecordStore {
	return &DocumentDBRecordStore{
		client: client,
		images: coll,
		log:    log.WithField("collection", coll.Name()),
	}
}

// createTLSConfig loads the DocumentDB CA bundle from caFile.
func createTLSConfig(caFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate from %s: %w", caFile, err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	return &tls.Config{RootCAs: caCertPool}, nil
}

// Close disconnects the underlying client.
func (s *DocumentDBRecordStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Put replaces the document with the record's ID, inserting it if absent.
func (s *DocumentDBRecordStore) Put(ctx context.Context, record *ImageRecord) error {
	item := documentDBImageItem{
		ID:          record.ID,
		Filename:    record.Filename,
		Size:        record.Size,
		ContentType: record.ContentType,
		CreatedAt:   record.CreatedAt,
		Tags:        record.Tags,
		Description: record.Description,
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.images.ReplaceOne(ctx, bson.M{"id": record.ID}, item, opts); err != nil {
		return recordFailure("put", fmt.Errorf("failed to replace image document: %w", err))
	}
	return nil
}

// Get retrieves a record by ID
func (s *DocumentDBRecordStore) Get(ctx context.Context, id string) (*ImageRecord, error) {
	var item documentDBImageItem
	err := s.images.FindOne(ctx, bson.M{"id": id}).Decode(&item)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, recordFailure("get", fmt.Errorf("failed to find image document: %w", err))
	}
	return item.toRecord(), nil
}

// Delete deletes a record. Deleting a missing document succeeds.
func (s *DocumentDBRecordStore) Delete(ctx context.Context, id string) error {
	if _, err := s.images.DeleteOne(ctx, bson.M{"id": id}); err != nil {
		return recordFailure("delete", fmt.Errorf("failed to delete image document: %w", err))
	}
	return nil
}

// Scan runs one Find over the whole collection with p as the query filter.
func (s *DocumentDBRecordStore) Scan(ctx context.Context, p Predicate) ([]*ImageRecord, error) {
	cursor, err := s.images.Find(ctx, documentDBFilter(p))
	if err != nil {
		return nil, recordFailure("scan", fmt.Errorf("failed to find images: %w", err))
	}
	defer cursor.Close(ctx)

	records := make([]*ImageRecord, 0)
	for cursor.Next(ctx) {
		var item documentDBImageItem
		if err := cursor.Decode(&item); err != nil {
			return nil, recordFailure("scan", fmt.Errorf("failed to decode image document: %w", err))
		}
		records = append(records, item.toRecord())
	}
	if err := cursor.Err(); err != nil {
		return nil, recordFailure("scan", fmt.Errorf("cursor error: %w", err))
	}

	s.log.WithField("count", len(records)).Debug("Scanned images")

	return records, nil
}

// documentDBFilter translates p into a query document. Keys in one
// document are implicitly ANDed.
func documentDBFilter(p Predicate) bson.M {
	filter := bson.M{}
	if p.MatchAll() {
		return filter
	}
	if p.FilenameContains != "" {
		filter["filename"] = primitive.Regex{Pattern: regexp.QuoteMeta(p.FilenameContains)}
	}
	if p.Tag != "" {
		// Equality on an array field matches any element.
		filter["tags"] = p.Tag
	}
	return filter
}

func (item *documentDBImageItem) toRecord() *ImageRecord {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	return &ImageRecord{
		ID:          item.ID,
		Filename:    item.Filename,
		Size:        item.Size,
		ContentType: item.ContentType,
		CreatedAt:   item.CreatedAt,
		Tags:        tags,
		Description: item.Description,
	}
}
