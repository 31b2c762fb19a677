package images

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/sirupsen/logrus"
)

// S3BlobStore implements the BlobStore interface using AWS S3
type S3BlobStore struct {
	s3Client   s3iface.S3API
	uploader   s3manageriface.UploaderAPI
	bucketName string
	log        logrus.FieldLogger
}

// NewS3BlobStore creates a new S3 blob store
func NewS3BlobStore(sess *session.Session, bucketName string, log logrus.FieldLogger) (*S3BlobStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}
	// Check if the bucket name contains placeholders
	if strings.Contains(bucketName, "[") || strings.Contains(bucketName, "]") {
		return nil, fmt.Errorf("S3 bucket name contains placeholders: %s", bucketName)
	}

	return &S3BlobStore{
		s3Client:   s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		bucketName: bucketName,
		log:        log.WithField("bucket", bucketName),
	}, nil
}

// Put uploads a blob to S3. The uploader streams the body, so its size
// does not have to be known up front.
func (s *S3BlobStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	input := &s3manager.UploadInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.uploader.UploadWithContext(ctx, input); err != nil {
		return "", blobFailure("put", fmt.Errorf("failed to upload blob %s: %w", key, err))
	}

	s.log.WithField("key", key).Debug("Uploaded blob")
	return key, nil
}

// Delete removes a blob from S3
func (s *S3BlobStore) Delete(ctx context.Context, key string) error {
	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil
		}
		return blobFailure("delete", fmt.Errorf("failed to delete blob %s: %w", key, err))
	}

	return nil
}

// Presign returns a GET link for key valid for ttl.
func (s *S3BlobStore) Presign(ctx context.Context, key string, ttl time.Duration) string {
	req, _ := s.s3Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	req.SetContext(ctx)

	url, err := req.Presign(ttl)
	if err != nil {
		s.log.WithField("key", key).Warnf("Failed to presign download URL: %v", err)
		return ""
	}
	return url
}
