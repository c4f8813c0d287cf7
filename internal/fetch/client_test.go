package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	return NewClient(Config{
		Timeout:     5 * time.Second,
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
		MinDelay:    0,
		MaxDelay:    0,
	}, zerolog.Nop())
}

func TestGetSuccess(t *testing.T) {
	var sawUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawUA.Store(r.Header.Get("User-Agent"))
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	resp, err := testClient(t).Get(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Body, "ok")
	assert.NotEmpty(t, sawUA.Load(), "user agent header must be set")
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	resp, err := testClient(t).Get(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Contains(t, resp.Body, "recovered")
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetBotWall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := testClient(t)
	_, err := c.Get(context.Background(), srv.URL, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBotWall))
}

func TestGetAllowStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	resp, err := testClient(t).Get(context.Background(), srv.URL, Options{AllowStatus: []int{429}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestGetAllow404(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	resp, err := testClient(t).Get(context.Background(), srv.URL, Options{Allow404: true})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestDomainFailureTracking(t *testing.T) {
	c := testClient(t)

	assert.False(t, c.preferBrowser("https://hostile.example.com/a"))
	c.markDomainFailed("https://hostile.example.com/a")
	assert.False(t, c.preferBrowser("https://hostile.example.com/b"))
	c.markDomainFailed("https://hostile.example.com/b")
	assert.True(t, c.preferBrowser("https://hostile.example.com/c"))

	// other domains unaffected
	assert.False(t, c.preferBrowser("https://friendly.example.com/"))
}

func TestGetDocumentParsesHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><article class="story"><h1>Title</h1></article></body></html>`))
	}))
	defer srv.Close()

	doc, err := testClient(t).GetDocument(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Title", doc.Find("article.story h1").Text())
}

func TestGetDocumentContentCheckWithoutBrowser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><div>empty shell</div></body></html>`))
	}))
	defer srv.Close()

	_, err := testClient(t).GetDocument(context.Background(), srv.URL, Options{
		CheckContent: func(doc *goquery.Document) bool {
			return doc.Find("article").Length() > 0
		},
	})
	assert.Error(t, err)
}

func TestURLVariations(t *testing.T) {
	vars := urlVariations("https://www.example.com/story?id=1")
	assert.Contains(t, vars, "https://www.example.com/story?id=1")
	assert.Contains(t, vars, "https://example.com/story?id=1")
	assert.Contains(t, vars, "http://www.example.com/story?id=1")

	vars = urlVariations("https://example.com/x")
	assert.Contains(t, vars, "https://www.example.com/x")
}

func TestDecompressedReader(t *testing.T) {
	const body = "<html><body>compressed content</body></html>"

	t.Run("gzip", func(t *testing.T) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		_, err := gz.Write([]byte(body))
		require.NoError(t, err)
		require.NoError(t, gz.Close())

		resp := &http.Response{
			Header: http.Header{"Content-Encoding": []string{"gzip"}},
			Body:   io.NopCloser(&buf),
		}
		reader, err := decompressedReader(resp)
		require.NoError(t, err)
		got, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, body, string(got))
	})

	t.Run("br", func(t *testing.T) {
		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		_, err := bw.Write([]byte(body))
		require.NoError(t, err)
		require.NoError(t, bw.Close())

		resp := &http.Response{
			Header: http.Header{"Content-Encoding": []string{"br"}},
			Body:   io.NopCloser(&buf),
		}
		reader, err := decompressedReader(resp)
		require.NoError(t, err)
		got, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, body, string(got))
	})

	t.Run("identity", func(t *testing.T) {
		resp := &http.Response{
			Header: http.Header{},
			Body:   io.NopCloser(strings.NewReader(body)),
		}
		reader, err := decompressedReader(resp)
		require.NoError(t, err)
		got, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, body, string(got))
	})

	t.Run("unknown encoding is an error, not raw bytes", func(t *testing.T) {
		resp := &http.Response{
			Header: http.Header{"Content-Encoding": []string{"zstd"}},
			Body:   io.NopCloser(strings.NewReader("garbage")),
		}
		_, err := decompressedReader(resp)
		assert.Error(t, err)
	})
}

func TestGetRequestsAllEncodings(t *testing.T) {
	var sawEncoding atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawEncoding.Store(r.Header.Get("Accept-Encoding"))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	_, err := testClient(t).Get(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "gzip, deflate, br", sawEncoding.Load())
}
