package images

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"
	"github.com/sirupsen/logrus"
)

// DynamoDBRecordStore implements the RecordStore interface using a single
// DynamoDB table with "id" as its hash key.
type DynamoDBRecordStore struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
	log       logrus.FieldLogger
}

// dynamoDBImageItem represents an image item in DynamoDB
type dynamoDBImageItem struct {
	ID          string   `json:"id"`
	Filename    string   `json:"filename"`
	Size        int64    `json:"size"`
	ContentType string   `json:"content_type"`
	CreatedAt   string   `json:"created_at"`
	Tags        []string `json:"tags,omitempty"`
	Description string   `json:"description,omitempty"`
}

// NewDynamoDBRecordStore creates a new DynamoDB record store
func NewDynamoDBRecordStore(sess *session.Session, tableName string, log logrus.FieldLogger) (*DynamoDBRecordStore, error) {
	if tableName == "" {
		return nil, fmt.Errorf("DynamoDB table name is required")
	}
	return &DynamoDBRecordStore{
		client:    dynamodb.New(sess),
		tableName: tableName,
		log:       log.WithField("table", tableName),
	}, nil
}

// Put writes the record, replacing any existing item with the same ID.
func (s *DynamoDBRecordStore) Put(ctx context.Context, record *ImageRecord) error {
	item := dynamoDBImageItem{
		ID:          record.ID,
		Filename:    record.Filename,
		Size:        record.Size,
		ContentType: record.ContentType,
		CreatedAt:   record.CreatedAt,
		Tags:        record.Tags,
		Description: record.Description,
	}

	av, err := dynamodbattribute.MarshalMap(item)
	if err != nil {
		return recordFailure("put", fmt.Errorf("failed to marshal image item: %w", err))
	}

	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return recordFailure("put", fmt.Errorf("failed to put image item: %w", err))
	}

	return nil
}

// Get retrieves a record by ID
func (s *DynamoDBRecordStore) Get(ctx context.Context, id string) (*ImageRecord, error) {
	result, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {
				S: aws.String(id),
			},
		},
	})
	if err != nil {
		return nil, recordFailure("get", fmt.Errorf("failed to get image item: %w", err))
	}

	if result.Item == nil {
		return nil, ErrNotFound
	}

	var item dynamoDBImageItem
	if err := dynamodbattribute.UnmarshalMap(result.Item, &item); err != nil {
		return nil, recordFailure("get", fmt.Errorf("failed to unmarshal image item: %w", err))
	}

	return item.toRecord(), nil
}

// Delete deletes a record. Deleting a missing item succeeds.
func (s *DynamoDBRecordStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {
				S: aws.String(id),
			},
		},
	})
	if err != nil {
		return recordFailure("delete", fmt.Errorf("failed to delete image item: %w", err))
	}

	return nil
}

// Scan reads the whole table, following every page, with p applied as a
// filter expression.
func (s *DynamoDBRecordStore) Scan(ctx context.Context, p Predicate) ([]*ImageRecord, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(s.tableName),
	}

	if cond, ok := dynamoDBCondition(p); ok {
		expr, err := expression.NewBuilder().WithFilter(cond).Build()
		if err != nil {
			return nil, recordFailure("scan", fmt.Errorf("failed to build expression: %w", err))
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	records := make([]*ImageRecord, 0)
	var decodeErr error
	err := s.client.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		for _, item := range page.Items {
			var dbItem dynamoDBImageItem
			if err := dynamodbattribute.UnmarshalMap(item, &dbItem); err != nil {
				decodeErr = err
				return false
			}
			records = append(records, dbItem.toRecord())
		}
		return true
	})
	if err != nil {
		return nil, recordFailure("scan", fmt.Errorf("failed to scan images: %w", err))
	}
	if decodeErr != nil {
		return nil, recordFailure("scan", fmt.Errorf("failed to unmarshal image item: %w", decodeErr))
	}

	s.log.WithField("count", len(records)).Debug("Scanned images")

	return records, nil
}

// dynamoDBCondition translates p into a filter condition. It returns false
// when p matches everything and no filter should be sent.
func dynamoDBCondition(p Predicate) (expression.ConditionBuilder, bool) {
	if p.MatchAll() {
		return expression.ConditionBuilder{}, false
	}

	var conds []expression.ConditionBuilder
	if p.FilenameContains != "" {
		conds = append(conds, expression.Name("filename").Contains(p.FilenameContains))
	}
	if p.Tag != "" {
		// contains() on a list attribute tests element membership.
		conds = append(conds, expression.Name("tags").Contains(p.Tag))
	}

	if len(conds) == 1 {
		return conds[0], true
	}
	return conds[0].And(conds[1], conds[2:]...), true
}

func (item *dynamoDBImageItem) toRecord() *ImageRecord {
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
