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

func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/mirror-bucket/o")
		assert.Equal(t, "runs/pages/1_a.html", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "<html>a</html>")
		fmt.Fprintln(w, `{"name":"runs/pages/1_a.html","bucket":"mirror-bucket"}`)
	})
	store, err := New(newTestClient(t, handler), Config{Bucket: "mirror-bucket", Prefix: "/runs/"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "pages/1_a.html", "text/html", strings.NewReader("<html>a</html>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://mirror-bucket/runs/pages/1_a.html", uri)
	require.NoError(t, store.Close())
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	store, err := New(newTestClient(t, handler), Config{Bucket: "b"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "pages/1_a.html", "", strings.NewReader("x"))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), "", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestOpenChecksBucket(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/b/present") {
			fmt.Fprintln(w, `{"name":"present"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()
	opts := []option.ClientOption{option.WithEndpoint(server.URL), option.WithoutAuthentication()}

	store, err := Open(context.Background(), Config{Bucket: "present"}, opts...)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = Open(context.Background(), Config{Bucket: "absent"}, opts...)
	require.Error(t, err)

	_, err = Open(context.Background(), Config{}, opts...)
	require.Error(t, err)
}
