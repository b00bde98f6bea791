package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/summary/RF1":
			_, _ = w.Write([]byte(`{"content":"BESPOKE 디자인. 1등급."}`))
		case "/summary/EMPTY":
			_, _ = w.Write([]byte(`{"content":"  "}`))
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	ctx := context.Background()

	got, err := c.Summary(ctx, "RF1")
	require.NoError(t, err)
	assert.Equal(t, "BESPOKE 디자인. 1등급.", got)

	_, err = c.Summary(ctx, "EMPTY")
	assert.ErrorIs(t, err, ErrRemoteFetchFailed)

	_, err = c.Summary(ctx, "MISSING")
	assert.ErrorIs(t, err, ErrRemoteFetchFailed)
}

func TestSummaryTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := New(srv.URL, time.Second).Summary(context.Background(), "RF1")
	assert.ErrorIs(t, err, ErrRemoteFetchFailed)
}

func TestSummaryContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(srv.URL, time.Second).Summary(ctx, "RF1")
	assert.ErrorIs(t, err, ErrRemoteFetchFailed)
}

func TestChatAndSearch(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "session-1", req.UUID)
		_ = json.NewEncoder(w).Encode(ChatResponse{Type: "compare", Content: req.Content, ModelNoList: []string{"RF1", "RF2"}})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	resp, err := c.Chat(context.Background(), ChatRequest{UUID: "session-1", Content: "compare"})
	require.NoError(t, err)
	assert.Equal(t, "compare", resp.Type)
	assert.Equal(t, []string{"RF1", "RF2"}, resp.ModelNoList)

	_, err = c.Search(context.Background(), ChatRequest{UUID: "session-1", Content: "slim"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/chat", "/chat/search"}, paths)
}

func TestChatServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Content error"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Chat(context.Background(), ChatRequest{Content: "x"})
	assert.ErrorIs(t, err, ErrRemoteFetchFailed)
	assert.Contains(t, err.Error(), "Content error")
}
