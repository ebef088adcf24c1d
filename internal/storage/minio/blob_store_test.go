package minio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"

	"github.com/moshe-connectio/car-template-demo/internal/inventory"
)

func TestPutObjectWritesNewObject(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	store, err := newWithClient(api, Config{Endpoint: "minio.local:9000", Bucket: "vehicles"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "vehicles/abcd1234/1-1.jpg", "image/jpeg", bytes.NewReader([]byte("jpeg")))
	require.NoError(t, err)
	require.Equal(t, "s3://vehicles/vehicles/abcd1234/1-1.jpg", uri)
	require.Equal(t, []byte("jpeg"), api.objects["vehicles/abcd1234/1-1.jpg"])
	require.Equal(t, "image/jpeg", api.contentTypes["vehicles/abcd1234/1-1.jpg"])
	require.EqualValues(t, 4, api.lastSize)
	require.Equal(t, "*", api.lastIfNoneMatch)
}

func TestPutObjectRefusesOverwrite(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.objects["a.jpg"] = []byte("old")
	store, err := newWithClient(api, Config{Endpoint: "minio.local:9000", Bucket: "vehicles"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "a.jpg", "image/jpeg", bytes.NewReader([]byte("new")))
	require.ErrorIs(t, err, inventory.ErrObjectExists)
	require.Equal(t, []byte("old"), api.objects["a.jpg"])
}

func TestPutObjectLosesRaceToConcurrentWriter(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.landAfterStat = map[string][]byte{"a.jpg": []byte("theirs")}
	store, err := newWithClient(api, Config{Endpoint: "minio.local:9000", Bucket: "vehicles"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "a.jpg", "image/jpeg", bytes.NewReader([]byte("ours")))
	require.ErrorIs(t, err, inventory.ErrObjectExists)
	require.Equal(t, []byte("theirs"), api.objects["a.jpg"])
}

func TestPutObjectStatFailure(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.statErr = minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}
	store, err := newWithClient(api, Config{Endpoint: "minio.local:9000", Bucket: "vehicles"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "a.jpg", "image/jpeg", bytes.NewReader([]byte("x")))
	require.ErrorContains(t, err, "stat object")
	require.Empty(t, api.objects)
}

func TestPutObjectUploadFailure(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.putErr = errors.New("connection reset")
	store, err := newWithClient(api, Config{Endpoint: "minio.local:9000", Bucket: "vehicles"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "a.jpg", "image/jpeg", bytes.NewReader([]byte("x")))
	require.ErrorContains(t, err, "put object: connection reset")
}

func TestPublicURL(t *testing.T) {
	t.Parallel()

	store, err := newWithClient(newFakeAPI(), Config{Endpoint: "minio.local:9000", Bucket: "vehicles", UseSSL: true})
	require.NoError(t, err)
	got, err := store.PublicURL("vehicles/x/1-1.jpg")
	require.NoError(t, err)
	require.Equal(t, "https://minio.local:9000/vehicles/vehicles/x/1-1.jpg", got)

	cdn, err := newWithClient(newFakeAPI(), Config{Endpoint: "minio.local:9000", Bucket: "vehicles", PublicBaseURL: "https://img.example.com"})
	require.NoError(t, err)
	got, err = cdn.PublicURL("x.jpg")
	require.NoError(t, err)
	require.Equal(t, "https://img.example.com/x.jpg", got)
}

func TestEnsureBucket(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	store, err := newWithClient(api, Config{Endpoint: "minio.local:9000", Bucket: "vehicles", Region: "us-east-1"})
	require.NoError(t, err)

	require.NoError(t, store.EnsureBucket(context.Background()))
	require.Equal(t, 1, api.made)
	require.NoError(t, store.EnsureBucket(context.Background()))
	require.Equal(t, 1, api.made)
}

func TestNewRequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := newWithClient(newFakeAPI(), Config{Endpoint: "minio.local:9000"})
	require.Error(t, err)
	_, err = New(Config{Bucket: "vehicles"})
	require.Error(t, err)
}

type fakeAPI struct {
	objects      map[string][]byte
	contentTypes map[string]string
	bucketExists bool
	made         int
	lastSize     int64
	statErr      error
	putErr       error
	// landAfterStat is written by another client right after a stat misses.
	landAfterStat   map[string][]byte
	lastIfNoneMatch string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (f *fakeAPI) BucketExists(context.Context, string) (bool, error) {
	return f.bucketExists, nil
}

func (f *fakeAPI) MakeBucket(context.Context, string, minio.MakeBucketOptions) error {
	f.made++
	f.bucketExists = true
	return nil
}

func (f *fakeAPI) StatObject(_ context.Context, _, object string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if f.statErr != nil {
		return minio.ObjectInfo{}, f.statErr
	}
	if data, ok := f.objects[object]; ok {
		return minio.ObjectInfo{Key: object, Size: int64(len(data))}, nil
	}
	if data, ok := f.landAfterStat[object]; ok {
		f.objects[object] = data
	}
	return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}
}

func (f *fakeAPI) PutObject(
	_ context.Context,
	_, object string,
	reader io.Reader,
	size int64,
	opts minio.PutObjectOptions,
) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	f.lastIfNoneMatch = opts.Header().Get("If-None-Match")
	if _, exists := f.objects[object]; exists && f.lastIfNoneMatch == "*" {
		return minio.UploadInfo{}, minio.ErrorResponse{Code: "PreconditionFailed", StatusCode: http.StatusPreconditionFailed}
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[object] = data
	f.contentTypes[object] = opts.ContentType
	f.lastSize = size
	return minio.UploadInfo{Key: object, Size: size}, nil
}
