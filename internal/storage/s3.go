// Package storage archives evaluation reports in an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"chipforge-gateway/internal/config"
	"chipforge-gateway/internal/logging"
)

var logger = logging.For("storage")

// ObjectAPI is the subset of the S3 client used here.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Client struct {
	s3     ObjectAPI
	bucket string
	prefix string
}

func New(ctx context.Context, st config.Storage) (*Client, error) {
	if st.Endpoint == "" || st.Bucket == "" {
		return nil, fmt.Errorf("object storage needs MINIO_ENDPOINT and MINIO_BUCKET")
	}
	endpoint := st.Endpoint
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	cfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(st.AccessKey, st.SecretKey, "")),
	)
	if err != nil {
		return nil, err
	}
	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return NewWithAPI(api, st.Bucket, st.Prefix), nil
}

// NewWithAPI wraps an existing S3 API implementation.
func NewWithAPI(api ObjectAPI, bucket, prefix string) *Client {
	return &Client{s3: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key of a submission's report. Ids that would not
// make a single clean path segment are replaced by a fresh uuid.
func (c *Client) Key(submissionID string) string {
	name := submissionID
	if name == "" || name != path.Base(name) || name == "." || name == ".." {
		name = uuid.NewString()
	}
	return path.Join(c.prefix, name+".json")
}

// Ref is the s3:// reference of key in this bucket.
func (c *Client) Ref(key string) string {
	return fmt.Sprintf("s3://%s/%s", c.bucket, key)
}

// PutJSON stores v as JSON under key and returns its s3:// reference.
func (c *Client) PutJSON(ctx context.Context, key string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &c.bucket,
		Key:         &key,
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	ref := c.Ref(key)
	logger.WithField("ref", ref).Debug("Stored object")
	return ref, nil
}

func parseS3Ref(ref string) (string, string, error) {
	const p = "s3://"
	if !strings.HasPrefix(ref, p) {
		return "", "", fmt.Errorf("bad s3 ref (missing s3://): %q", ref)
	}
	s := strings.TrimPrefix(ref, p)
	slash := strings.IndexByte(s, '/')
	if slash <= 0 || slash == len(s)-1 {
		return "", "", fmt.Errorf("bad s3 ref (need bucket/key): %q", ref)
	}
	return s[:slash], s[slash+1:], nil
}

// GetJSON fetches and decodes an object previously returned by PutJSON.
func (c *Client) GetJSON(ctx context.Context, ref string) (map[string]any, error) {
	bucket, key, err := parseS3Ref(ref)
	if err != nil {
		return nil, err
	}
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	defer out.Body.Close()
	var v map[string]any
	if err := json.NewDecoder(out.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ref, err)
	}
	return v, nil
}
