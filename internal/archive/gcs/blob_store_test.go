package gcs_test

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

	"github.com/JakeFAU/fightgraph-crawler/internal/archive/gcs"
)

func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	assert.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = gcs.New(client, gcs.Config{})
	assert.Error(t, err)
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	const bucket = "archive-bucket"
	const object = "pages/events/2024-01-01/abc.html"

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", bucket))
		assert.Equal(t, object, r.URL.Query().Get("name"))
		assert.Equal(t, "0", r.URL.Query().Get("ifGenerationMatch"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "<html>page</html>")
		assert.Contains(t, string(body), "charset=utf-8")

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"bucket": %q, "name": %q}`, bucket, object)
	})

	store, err := gcs.New(newTestClient(t, handler), gcs.Config{Bucket: bucket, Prefix: "/pages/"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "events/2024-01-01/abc.html", "", strings.NewReader("<html>page</html>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://"+bucket+"/"+object, uri)
}

func TestPutObjectAlreadyArchived(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		fmt.Fprint(w, `{"error": {"code": 412, "message": "At least one of the pre-conditions you specified did not hold."}}`)
	})
	store, err := gcs.New(newTestClient(t, handler), gcs.Config{Bucket: "b"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "events/2024-01-01/abc.html", "", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "gs://b/events/2024-01-01/abc.html", uri)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.NotFoundHandler())
	plain, err := gcs.New(client, gcs.Config{Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "events/x.html", plain.ObjectName("events/x.html"))

	prefixed, err := gcs.New(client, gcs.Config{Bucket: "b", Prefix: "fightgraph/raw"})
	require.NoError(t, err)
	assert.Equal(t, "fightgraph/raw/events/x.html", prefixed.ObjectName("events/x.html"))
}

func TestPutObjectFailure(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store, err := gcs.New(newTestClient(t, handler), gcs.Config{Bucket: "b"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.PutObject(ctx, "x.html", "", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestPutObjectEmptyPath(t *testing.T) {
	t.Parallel()

	store, err := gcs.New(newTestClient(t, http.NotFoundHandler()), gcs.Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "", "", strings.NewReader("x"))
	assert.Error(t, err)
}
