package stage

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const csvBody = "Date,Open,High,Low,Close,Volume,Dividends,Stock_Splits,Symbol\n2026-01-02,100,110,90,105,1000,0,0,NVDA\n"

func getTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func writeStagedFile(t *testing.T) string {
	localPath := filepath.Join(t.TempDir(), "stock_data_20260102.csv")
	require.NoError(t, os.WriteFile(localPath, []byte(csvBody), 0o644))
	return localPath
}

// fakeS3 serves path-style PutObject and GetObject from memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) object(path string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[path]
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	objectPath := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[objectPath] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[objectPath]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func setupS3Store(t *testing.T) (*S3Store, *fakeS3) {
	fake := &fakeS3{objects: map[string][]byte{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		Credentials:                credentials.NewStaticCredentialsProvider("test", "test", ""),
		BaseEndpoint:               aws.String(server.URL),
		UsePathStyle:               true,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
	return NewS3StoreWithClient(client, getTestLogger()), fake
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "raw/stock_data_20260102.csv", ObjectKey("raw", "stock_data_20260102.csv"))
	assert.Equal(t, "raw/daily/stock_data_20260102.csv", ObjectKey("raw/daily/", "stock_data_20260102.csv"))
	assert.Equal(t, "stock_data_20260102.csv", ObjectKey("", "stock_data_20260102.csv"))
}

func TestS3Store_UploadDownload(t *testing.T) {
	store, fake := setupS3Store(t)
	ctx := context.Background()
	localPath := writeStagedFile(t)

	err := store.Upload(ctx, localPath, "wallstreet-data-lake", "raw/stock_data_20260102.csv")
	require.NoError(t, err)
	assert.Equal(t, []byte(csvBody), fake.object("wallstreet-data-lake/raw/stock_data_20260102.csv"))

	body, err := store.Download(ctx, "wallstreet-data-lake", "raw/stock_data_20260102.csv")
	require.NoError(t, err)
	assert.Equal(t, csvBody, string(body))
}

func TestS3Store_Errors(t *testing.T) {
	store, _ := setupS3Store(t)
	ctx := context.Background()

	err := store.Upload(ctx, filepath.Join(t.TempDir(), "missing.csv"), "bucket", "raw/missing.csv")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "error opening local file")

	_, err = store.Download(ctx, "bucket", "raw/missing.csv")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStore_UploadDownload(t *testing.T) {
	root := t.TempDir()
	store := NewLocalStore(root, getTestLogger())
	ctx := context.Background()
	localPath := writeStagedFile(t)

	require.NoError(t, store.Upload(ctx, localPath, "bucket", "raw/stock_data_20260102.csv"))

	stored, err := os.ReadFile(filepath.Join(root, "bucket", "raw", "stock_data_20260102.csv"))
	require.NoError(t, err)
	assert.Equal(t, csvBody, string(stored))

	body, err := store.Download(ctx, "bucket", "raw/stock_data_20260102.csv")
	require.NoError(t, err)
	assert.Equal(t, csvBody, string(body))

	// re-upload overwrites
	require.NoError(t, os.WriteFile(localPath, []byte("Date\n"), 0o644))
	require.NoError(t, store.Upload(ctx, localPath, "bucket", "raw/stock_data_20260102.csv"))
	body, err = store.Download(ctx, "bucket", "raw/stock_data_20260102.csv")
	require.NoError(t, err)
	assert.Equal(t, "Date\n", string(body))
}

func TestLocalStore_Errors(t *testing.T) {
	store := NewLocalStore(t.TempDir(), getTestLogger())
	ctx := context.Background()
	localPath := writeStagedFile(t)

	tests := []struct {
		name        string
		bucket      string
		key         string
		errContains string
	}{
		{name: "missing bucket", bucket: "", key: "raw/a.csv", errContains: "bucket is required"},
		{name: "escaping key", bucket: "bucket", key: "../../etc/passwd", errContains: "invalid object key"},
		{name: "empty key", bucket: "bucket", key: "", errContains: "invalid object key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Upload(ctx, localPath, tt.bucket, tt.key)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}

	_, err := store.Download(ctx, "bucket", "raw/never-uploaded.csv")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestNewObjectStore(t *testing.T) {
	ctx := context.Background()

	store, err := NewObjectStore(ctx, &config.Config{Storage: config.StorageConfig{Backend: "local", LocalRoot: t.TempDir()}}, getTestLogger())
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store)

	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	store, err = NewObjectStore(ctx, &config.Config{Storage: config.StorageConfig{Backend: "s3", Region: "us-east-1"}}, getTestLogger())
	require.NoError(t, err)
	assert.IsType(t, &S3Store{}, store)

	_, err = NewObjectStore(ctx, &config.Config{Storage: config.StorageConfig{Backend: "gcs"}}, getTestLogger())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend: gcs")
}
