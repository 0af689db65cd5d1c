package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler, cfg Config) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)

	store, err := New(client, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	assert.Error(t, err)
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/texts-bucket/o")
		assert.Equal(t, "run-1/FR-0001.txt", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "policy text")

		fmt.Fprintln(w, `{"name": "run-1/FR-0001.txt", "bucket": "texts-bucket"}`)
	})
	store := newTestStore(t, handler, Config{Bucket: "texts-bucket", Prefix: "/run-1/"})

	uri, err := store.PutObject(context.Background(), "FR-0001.txt", "text/plain; charset=utf-8", strings.NewReader("policy text"))
	require.NoError(t, err)
	assert.Equal(t, "gs://texts-bucket/run-1/FR-0001.txt", uri)
}

func TestPutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	store := newTestStore(t, handler, Config{Bucket: "texts-bucket"})

	_, err := store.PutObject(context.Background(), "x.txt", "text/plain", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestPutObjectRequiresPath(t *testing.T) {
	store := newTestStore(t, http.NotFoundHandler(), Config{Bucket: "texts-bucket"})
	_, err := store.PutObject(context.Background(), " ", "text/plain", strings.NewReader("x"))
	assert.Error(t, err)
}
