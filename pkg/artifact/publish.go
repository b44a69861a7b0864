package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sourcegraph/conc/pool"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// maxConcurrentUploads bounds parallel object uploads
const maxConcurrentUploads = 4

// S3API is the subset of the S3 client used for publishing
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Location is a bucket and key prefix
type Location struct {
	Bucket string
	Prefix string
}

func (l Location) String() string {
	return "s3://" + path.Join(l.Bucket, l.Prefix)
}

// ParseLocation parses an s3://bucket/prefix URI
func ParseLocation(uri string) (Location, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("invalid publish location %q: %w", uri, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return Location{}, fmt.Errorf("invalid publish location %q: want s3://bucket[/prefix]", uri)
	}
	return Location{Bucket: u.Host, Prefix: strings.Trim(u.Path, "/")}, nil
}

// Publisher uploads bundles to object storage
type Publisher struct {
	client S3API
}

// NewPublisher creates a publisher over an existing client
func NewPublisher(client S3API) *Publisher {
	return &Publisher{client: client}
}

// NewPublisherForRegion loads the default credential chain for a region
func NewPublisherForRegion(ctx context.Context, region string) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewPublisher(s3.NewFromConfig(cfg)), nil
}

// Publish uploads every file of the bundle to
// <prefix>/<stack>/<render hash>/<file> and returns the keys in bundle order.
func (p *Publisher) Publish(ctx context.Context, b *Bundle, loc Location) ([]string, error) {
	logger := log.FromContext(ctx).WithValues("location", loc.String())
	if b.Manifest.RenderHash == "" {
		return nil, fmt.Errorf("bundle has no render hash")
	}

	keys := make([]string, len(b.Files))
	for i, f := range b.Files {
		keys[i] = path.Join(loc.Prefix, b.Manifest.Stack, b.Manifest.RenderHash, f.Name)
	}

	up := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(maxConcurrentUploads)
	for i := range b.Files {
		f, key := b.Files[i], keys[i]
		up.Go(func(ctx context.Context) error {
			_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:        aws.String(loc.Bucket),
				Key:           aws.String(key),
				Body:          bytes.NewReader(f.Data),
				ContentLength: aws.Int64(int64(len(f.Data))),
				ContentType:   aws.String(f.ContentType),
			})
			if err != nil {
				return fmt.Errorf("failed to put object %s in bucket %s: %w", key, loc.Bucket, describeError(err))
			}
			logger.V(1).Info("Uploaded artifact", "key", key, "bytes", len(f.Data))
			return nil
		})
	}
	if err := up.Wait(); err != nil {
		return nil, err
	}

	logger.Info("Published bundle", "files", len(keys), "hash", b.Manifest.RenderHash)
	return keys, nil
}

// describeError names missing buckets and other provider error codes
func describeError(err error) error {
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return fmt.Errorf("bucket does not exist: %w", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", apiErr.ErrorCode(), err)
	}
	return err
}
