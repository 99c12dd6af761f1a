package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chat-stt-gateway/internal/models"
)

func newTestClient(url string) *Client {
	return NewClient(Config{BaseURL: url + "/", APIKey: "app-key", User: "tester"}, zerolog.Nop())
}

func TestStream_SendsRequest(t *testing.T) {
	var got chatMessageRequest
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"event\":\"message\",\"answer\":\"hi\"}\n\n")
	}))
	defer srv.Close()

	body, err := newTestClient(srv.URL).Stream(context.Background(), models.ChatRequest{Query: "hello", ConversationID: "c1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer body.Close()

	b, _ := io.ReadAll(body)
	if !strings.Contains(string(b), `"answer":"hi"`) {
		t.Errorf("unexpected body %q", b)
	}
	if path != "/chat-messages" {
		t.Errorf("expected /chat-messages, got %s", path)
	}
	if auth != "Bearer app-key" {
		t.Errorf("unexpected auth header %q", auth)
	}
	if got.Query != "hello" || got.ConversationID != "c1" || got.User != "tester" || got.ResponseMode != "streaming" {
		t.Errorf("unexpected request body: %+v", got)
	}
	if got.Inputs == nil {
		t.Error("expected empty inputs object")
	}
}

func TestStream_NonOKStatus(t *testing.T) {
	long := strings.Repeat("x", 300)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, long)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Stream(context.Background(), models.ChatRequest{Query: "q"})

	var uerr *UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if uerr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", uerr.StatusCode)
	}
	if len(uerr.Body) != 100 {
		t.Errorf("expected body truncated to 100 chars, got %d", len(uerr.Body))
	}
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Error("expected UpstreamError to match ErrUpstreamUnavailable")
	}
}

func TestStream_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).Stream(context.Background(), models.ChatRequest{Query: "q"})
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
	var uerr *UpstreamError
	if errors.As(err, &uerr) {
		t.Error("transport failures must not be UpstreamError")
	}
}

func TestStream_CancelClosesUpstream(t *testing.T) {
	closed := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(closed)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	body, err := newTestClient(srv.URL).Stream(ctx, models.ChatRequest{Query: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer body.Close()

	cancel()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream connection was not closed after cancel")
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).Health(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
}

func TestHealth_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Health(context.Background())
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("expected unavailable, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("你好世界", 2); got != "你好" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abc", 10); got != "abc" {
		t.Errorf("truncate = %q", got)
	}
}
