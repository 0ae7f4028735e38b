package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// Config holds S3 client configuration
type Config struct {
	Region   string
	Endpoint string
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	Metadata     map[string]string
}

// Client wraps the S3 API with the small surface the backend needs:
// existence checks, reads, deletes, and presigned GET/PUT URLs.
type Client struct {
	s3     *s3.S3
	logger *slog.Logger
}

// NewClient creates a new S3 object store client using the default AWS
// credential chain.
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	cfg := aws.NewConfig().WithRegion(config.Region)
	if config.Endpoint != "" {
		cfg = cfg.WithEndpoint(config.Endpoint)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	logger.Info("S3 client initialized",
		slog.String("region", config.Region),
	)

	return &Client{
		s3:     s3.New(sess),
		logger: logger,
	}, nil
}

// Head returns object metadata and whether the object exists. A missing
// object is a normal outcome, not an error.
func (c *Client) Head(ctx context.Context, bucket, key string) (*ObjectInfo, bool, error) {
	resp, err := c.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		// HeadObject reports a missing key as a bare "NotFound" code.
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == "NotFound" {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to head object %s/%s: %w", bucket, key, err)
	}

	meta := make(map[string]string, len(resp.Metadata))
	for k, v := range resp.Metadata {
		meta[k] = aws.StringValue(v)
	}

	return &ObjectInfo{
		Key:          key,
		Size:         aws.Int64Value(resp.ContentLength),
		LastModified: aws.TimeValue(resp.LastModified),
		Metadata:     meta,
	}, true, nil
}

// Get returns the object body. The caller must close the reader.
func (c *Client) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	resp, err := c.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s/%s: %w", bucket, key, err)
	}

	return resp.Body, nil
}

// Delete removes the object.
func (c *Client) Delete(ctx context.Context, bucket, key string) error {
	_, err := c.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s/%s: %w", bucket, key, err)
	}

	c.logger.Debug("Object deleted",
		slog.String("bucket", bucket),
		slog.String("key", key),
	)

	return nil
}

// List returns metadata for all objects in the bucket, optionally under a
// prefix, following pagination markers.
func (c *Client) List(ctx context.Context, bucket, prefix string) ([]*ObjectInfo, error) {
	var objects []*ObjectInfo

	input := &s3.ListObjectsInput{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}

	for {
		resp, err := c.s3.ListObjectsWithContext(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects in %s: %w", bucket, err)
		}

		for _, object := range resp.Contents {
			objects = append(objects, &ObjectInfo{
				Key:          aws.StringValue(object.Key),
				Size:         aws.Int64Value(object.Size),
				LastModified: aws.TimeValue(object.LastModified),
			})
		}

		if !aws.BoolValue(resp.IsTruncated) || len(resp.Contents) == 0 {
			break
		}
		input.Marker = resp.Contents[len(resp.Contents)-1].Key
	}

	return objects, nil
}

// SignGetURL returns a presigned download URL. A non-empty filename sets the
// Content-Disposition so browsers save the artifact under that name.
func (c *Client) SignGetURL(bucket, key string, expire time.Duration, filename string) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if filename != "" {
		input.ResponseContentDisposition = aws.String(fmt.Sprintf("attachment; filename=%q", filename))
	}

	req, _ := c.s3.GetObjectRequest(input)
	url, err := req.Presign(expire)
	if err != nil {
		return "", fmt.Errorf("failed to presign GET for %s/%s: %w", bucket, key, err)
	}

	return url, nil
}

// SignPutURL returns a presigned upload URL for the given content type.
// Metadata entries are bound into the signature and stored on the object.
func (c *Client) SignPutURL(bucket, key, contentType string, expire time.Duration, metadata map[string]string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}
	if len(metadata) > 0 {
		input.Metadata = aws.StringMap(metadata)
	}

	req, _ := c.s3.PutObjectRequest(input)
	url, err := req.Presign(expire)
	if err != nil {
		return "", fmt.Errorf("failed to presign PUT for %s/%s: %w", bucket, key, err)
	}

	return url, nil
}
