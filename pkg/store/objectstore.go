package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cespare/xxhash/v2"
)

// S3API is the subset of *s3.Client methods ObjectStoreEngine needs,
// narrowed so tests can supply a fake without pulling in network I/O.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// ObjectStoreEngine is an S3-compatible Engine. Keys are sharded by a
// two-hex-digit prefix derived from xxhash so that a single logical
// prefix (e.g. "nouns/") doesn't land every object under one S3
// partition, mirroring the placement strategy brainy also applies to
// partition assignment in pkg/coordinator.
type ObjectStoreEngine struct {
	api    S3API
	bucket string
	prefix string // optional key namespace, e.g. "brainy/"
}

var _ Engine = (*ObjectStoreEngine)(nil)

type objectStoreOptions struct {
	api    S3API
	prefix string
}

// ObjectStoreOption customizes NewObjectStoreEngine.
type ObjectStoreOption func(*objectStoreOptions)

// WithS3API overrides the S3 client, primarily for tests.
func WithS3API(api S3API) ObjectStoreOption {
	return func(o *objectStoreOptions) { o.api = api }
}

// WithKeyPrefix namespaces every object under prefix (e.g. a
// per-environment folder within a shared bucket).
func WithKeyPrefix(prefix string) ObjectStoreOption {
	return func(o *objectStoreOptions) { o.prefix = prefix }
}

// NewObjectStoreEngine builds an ObjectStoreEngine over bucket using the
// given AWS config (already resolved via config.LoadDefaultConfig by the
// caller, so region/credentials follow the standard SDK chain).
func NewObjectStoreEngine(cfg aws.Config, bucket string, opts ...ObjectStoreOption) *ObjectStoreEngine {
	o := objectStoreOptions{api: s3.NewFromConfig(cfg)}
	for _, apply := range opts {
		apply(&o)
	}
	return &ObjectStoreEngine{api: o.api, bucket: bucket, prefix: o.prefix}
}

func (e *ObjectStoreEngine) objectKey(key string) string {
	shard := fmt.Sprintf("%02x", byte(xxhash.Sum64String(key)))
	if e.prefix == "" {
		return shard + "/" + key
	}
	return strings.TrimSuffix(e.prefix, "/") + "/" + shard + "/" + key
}

func (e *ObjectStoreEngine) Put(ctx context.Context, key string, data []byte) error {
	_, err := e.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("store: s3 put %q: %w", key, err)
	}
	return nil
}

func (e *ObjectStoreEngine) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := e.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.objectKey(key)),
	})
	if err != nil {
		var nf *types.NoSuchKey
		if errors.As(err, &nf) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: s3 get %q: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("store: s3 read body %q: %w", key, err)
	}
	return data, true, nil
}

func (e *ObjectStoreEngine) Delete(ctx context.Context, key string) error {
	_, err := e.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("store: s3 delete %q: %w", key, err)
	}
	return nil
}

func (e *ObjectStoreEngine) List(ctx context.Context, prefix string) (iter.Seq[string], error) {
	// A logical prefix spans every shard, so list all 256 shards rather
	// than relying on S3's own prefix match (which only sees the sharded
	// key, not the logical one).
	var keys []string
	for shard := 0; shard < 256; shard++ {
		shardPrefix := fmt.Sprintf("%02x", byte(shard))
		full := shardPrefix + "/" + prefix
		if e.prefix != "" {
			full = strings.TrimSuffix(e.prefix, "/") + "/" + full
		}
		stripLen := len(full) - len(prefix)

		paginator := s3.NewListObjectsV2Paginator(e.api, &s3.ListObjectsV2Input{
			Bucket: aws.String(e.bucket),
			Prefix: aws.String(full),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("store: s3 list %q: %w", prefix, err)
			}
			for _, obj := range page.Contents {
				logical := aws.ToString(obj.Key)[stripLen:]
				keys = append(keys, logical)
			}
		}
	}

	return func(yield func(string) bool) {
		for _, k := range keys {
			if !yield(k) {
				return
			}
		}
	}, nil
}

func (e *ObjectStoreEngine) PutIfAbsent(ctx context.Context, key string, data []byte) (bool, error) {
	_, err := e.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(e.objectKey(key)),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		var apiErr interface{ ErrorCode() string }
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return false, nil
		}
		return false, fmt.Errorf("store: s3 put-if-absent %q: %w", key, err)
	}
	return true, nil
}

func (e *ObjectStoreEngine) EstimateSize(ctx context.Context) (SizeEstimate, error) {
	var keys, total int64
	paginator := s3.NewListObjectsV2Paginator(e.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(e.bucket),
		Prefix: aws.String(strings.TrimSuffix(e.prefix, "/")),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return SizeEstimate{}, fmt.Errorf("store: s3 estimate size: %w", err)
		}
		for _, obj := range page.Contents {
			keys++
			total += aws.ToInt64(obj.Size)
		}
	}
	return SizeEstimate{Keys: keys, Bytes: total, Approximate: true}, nil
}

func (e *ObjectStoreEngine) Close() error {
	return nil
}
