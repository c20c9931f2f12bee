package store

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory S3API used to exercise ObjectStoreEngine
// without a network dependency.
type fakeS3 struct {
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	if aws.ToString(in.IfNoneMatch) == "*" {
		if _, exists := f.objects[key]; exists {
			return nil, &smithyGenericAPIError{code: "PreconditionFailed"}
		}
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	var contents []types.Object
	for k, v := range f.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			size := int64(len(v))
			contents = append(contents, types.Object{Key: aws.String(k), Size: &size})
		}
	}
	return &s3.ListObjectsV2Output{Contents: contents, IsTruncated: aws.Bool(false)}, nil
}

type smithyGenericAPIError struct{ code string }

func (e *smithyGenericAPIError) Error() string     { return e.code }
func (e *smithyGenericAPIError) ErrorCode() string { return e.code }

func newTestObjectStore() (*ObjectStoreEngine, *fakeS3) {
	fake := newFakeS3()
	engine := &ObjectStoreEngine{api: fake, bucket: "test-bucket"}
	return engine, fake
}

func TestObjectStoreEnginePutGetDelete(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestObjectStore()

	require.NoError(t, e.Put(ctx, "nouns/a", []byte("hello")))
	data, found, err := e.Get(ctx, "nouns/a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), data)

	require.NoError(t, e.Delete(ctx, "nouns/a"))
	_, found, err = e.Get(ctx, "nouns/a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestObjectStoreEnginePutIfAbsent(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestObjectStore()

	created, err := e.PutIfAbsent(ctx, "locks/p0", []byte("owner-1"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = e.PutIfAbsent(ctx, "locks/p0", []byte("owner-2"))
	require.NoError(t, err)
	assert.False(t, created)
}

func TestObjectStoreEngineGetMissingKey(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestObjectStore()

	_, found, err := e.Get(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, found)
}
