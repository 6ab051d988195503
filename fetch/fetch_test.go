package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pevans/bdmscrape/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendsBrowserHeaders(t *testing.T) {
	var gotUA, gotLang string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		fmt.Fprint(w, "<html><body><h1>ok</h1></body></html>")
	}))
	defer server.Close()

	client := NewClient(Options{Retry: retry.None()})
	doc, err := client.Document(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Equal(t, "ok", doc.Find("h1").Text())
	assert.Equal(t, DefaultUserAgent, gotUA)
	assert.Equal(t, DefaultAcceptLanguage, gotLang)
}

func TestClient_NotFoundIsDistinct(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := NewClient(Options{Retry: retry.DefaultPolicy()})
	_, err := client.Fetch(context.Background(), server.URL)

	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsTransient(err))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "<p>finally</p>")
	}))
	defer server.Close()

	client := NewClient(Options{Retry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}})
	body, err := client.Fetch(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Contains(t, string(body), "finally")
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(Options{Retry: retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}})
	_, err := client.Fetch(context.Background(), server.URL)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, int32(2), hits.Load())
	assert.False(t, IsNotFound(err))
}

func TestClient_DecodesLatin1(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		// "été" in ISO-8859-1
		w.Write([]byte("<p>\xe9t\xe9</p>"))
	}))
	defer server.Close()

	client := NewClient(Options{})
	doc, err := client.Document(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "été", doc.Find("p").Text())
}

func TestClient_TimeoutPerRequest(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(Options{Timeout: 20 * time.Millisecond, Retry: retry.None()})
	_, err := client.Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsTransient(err))
}

func TestClient_RetriesTimedOutRequest(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		fmt.Fprint(w, "<p>second try</p>")
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(Options{
		Timeout: 50 * time.Millisecond,
		Retry:   retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
	})
	body, err := client.Fetch(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Contains(t, string(body), "second try")
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_CallerDeadlineIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	client := NewClient(Options{
		Timeout: time.Second,
		Retry:   retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
	})
	_, err := client.Fetch(ctx, server.URL)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsTransient(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(Options{Retry: retry.DefaultPolicy()})
	_, err := client.Fetch(ctx, server.URL)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(errors.New("connection reset")))
	assert.True(t, IsTransient(&StatusError{StatusCode: 502}))
	assert.True(t, IsTransient(&StatusError{StatusCode: 429}))
	assert.False(t, IsTransient(&StatusError{StatusCode: 403}))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(fmt.Errorf("failed to fetch URL: %w after 30s", ErrTimeout)))
}
