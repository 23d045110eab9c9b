package content

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCID = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

func writeTempFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("inspection report"), 0o600))
	return path
}

func newTestClient(apiURL, nodeURL, gatewayURL string) *Client {
	c := NewClient(Options{
		APIURL:     apiURL,
		NodeURL:    nodeURL,
		GatewayURL: gatewayURL,
		MaxRetries: 3,
	}, nil)
	c.retryInterval = time.Millisecond
	return c
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/add", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1 << 20))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "report.pdf", header.Filename)

		w.Write([]byte(`{"name":"report.pdf","cid":"` + testCID + `"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "", "")
	cid, err := c.Upload(context.Background(), writeTempFile(t))
	require.NoError(t, err)
	assert.Equal(t, testCID, cid)
}

func TestUploadRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"Hash":"` + testCID + `"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "", "")
	cid, err := c.Upload(context.Background(), writeTempFile(t))
	require.NoError(t, err)
	assert.Equal(t, testCID, cid)
	assert.Equal(t, int32(3), calls.Load())
}

func TestUploadGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "", "")
	_, err := c.Upload(context.Background(), writeTempFile(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}

func TestUploadMissingFile(t *testing.T) {
	c := newTestClient("http://unused", "", "")
	_, err := c.Upload(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")
}

func TestUploadNoCIDInResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"report.pdf"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "", "")
	_, err := c.Upload(context.Background(), writeTempFile(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no content id")
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+testCID, r.URL.Path)
		w.Write([]byte("file bytes"))
	}))
	defer srv.Close()

	c := newTestClient("", "", srv.URL)
	data, err := c.Fetch(context.Background(), testCID)
	require.NoError(t, err)
	assert.Equal(t, []byte("file bytes"), data)
}

func TestPinAndUnpin(t *testing.T) {
	var lastPath, lastArg string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastPath = r.URL.Path
		lastArg = r.URL.Query().Get("arg")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "", "")

	assert.True(t, c.Pin(context.Background(), testCID))
	assert.Equal(t, "/pin/add", lastPath)
	assert.Equal(t, testCID, lastArg)

	ok, err := c.Unpin(context.Background(), testCID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/pin/rm", lastPath)
}

func TestPinFailureReturnsFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "", "")
	assert.False(t, c.Pin(context.Background(), testCID))

	ok, err := c.Unpin(context.Background(), testCID)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestProbe(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/version", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"Version":"0.24.0"}`))
	}))
	defer up.Close()

	c := newTestClient("", up.URL, "")
	assert.True(t, c.Probe(context.Background()))

	down := newTestClient("", "http://127.0.0.1:1", "")
	assert.False(t, down.Probe(context.Background()))
}

func TestValidCID(t *testing.T) {
	assert.True(t, ValidCID(testCID))
	assert.True(t, ValidCID("bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"))
	assert.False(t, ValidCID("not-a-cid"))
	assert.False(t, ValidCID(""))
}
