package homeassistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartsync/backend/internal/domain"
)

func newTestClient(url string) *Client {
	c := NewClient(Config{URL: url + "/", Token: "test-token", Entity: "notify.kitchen_echo"}, nil)
	c.backoff = time.Millisecond
	return c
}

func TestNewClient(t *testing.T) {
	client := NewClient(Config{URL: "http://ha.local:8123/", Token: "tok", Entity: "notify.echo"}, nil)

	assert.NotNil(t, client)
	assert.Equal(t, "http://ha.local:8123", client.baseURL)
	assert.Equal(t, "tok", client.token)
	assert.Equal(t, "notify.echo", client.entity)
	assert.Equal(t, defaultTimeout, client.httpClient.Timeout)
	assert.NotNil(t, client.rateLimiter)
}

func TestNewSink(t *testing.T) {
	_, ok := NewSink(Config{URL: "http://ha.local", Token: "tok"}, nil).(NopSink)
	assert.True(t, ok, "incomplete config should yield a no-op sink")

	_, ok = NewSink(Config{URL: "http://ha.local", Token: "tok", Entity: "notify.echo"}, nil).(*Client)
	assert.True(t, ok)
}

func TestBuildMessage(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		want  string
	}{
		{"none", nil, ""},
		{"single item", []string{"unobtainium widget"}, "Attention. I could not add unobtainium widget to the Walmart cart"},
		{"two items", []string{"milk", "eggs"}, "Attention. I could not add milk and eggs to the Walmart cart"},
		{"three items", []string{"milk", "eggs", "bread"}, "Attention. I could not add milk, eggs and bread to the Walmart cart"},
		{"many items", []string{"a", "b", "c", "d"}, "Attention. I could not add 4 items to the Walmart cart"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildMessage(tt.names))
		})
	}
}

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, 1000 * time.Millisecond},
		{3, 2000 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.expected.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, exponentialBackoff(500*time.Millisecond, tt.attempt))
		})
	}
}

func TestNotify_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, notifyPath, r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body ttsRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "notify.kitchen_echo", body.Target)
		assert.Equal(t, "tts", body.Data["type"])
		assert.Equal(t, "Attention. I could not add unobtainium widget to the Walmart cart", body.Message)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("[]"))
	}))
	defer server.Close()

	err := newTestClient(server.URL).Notify(context.Background(), []string{"unobtainium widget"})
	require.NoError(t, err)
}

func TestNotify_EmptyListSendsNothing(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	require.NoError(t, newTestClient(server.URL).Notify(context.Background(), nil))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestNotify_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	err := newTestClient(server.URL).Notify(context.Background(), []string{"milk"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNotify_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := newTestClient(server.URL).Notify(context.Background(), []string{"milk"})
	assert.ErrorIs(t, err, domain.ErrNotifyFailed)
	assert.Equal(t, int32(maxAttempts), atomic.LoadInt32(&calls))
}

func TestNotify_Unauthorized(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("401: Unauthorized"))
	}))
	defer server.Close()

	err := newTestClient(server.URL).Notify(context.Background(), []string{"milk"})
	assert.ErrorIs(t, err, domain.ErrNotifyFailed)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "client errors are not retried")
}

func TestNotify_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := newTestClient(url).Notify(context.Background(), []string{"milk"})
	assert.ErrorIs(t, err, domain.ErrNotifyFailed)
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pingPath, r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"message": "API running."}`))
	}))
	defer server.Close()

	require.NoError(t, newTestClient(server.URL).Ping(context.Background()))

	bad := newTestClient(server.URL)
	bad.token = "wrong"
	assert.ErrorIs(t, bad.Ping(context.Background()), domain.ErrNotifyFailed)
}

func TestNopSink(t *testing.T) {
	assert.NoError(t, NopSink{}.Notify(context.Background(), []string{"milk"}))
}
