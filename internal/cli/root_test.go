package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chat-stt-gateway/internal/config"
	httpapi "chat-stt-gateway/internal/http"
)

func TestNewRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()

	for _, name := range []string{"serve", "serve-stt", "fetch-model", "view-events"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("expected subcommand %s, got %v (%v)", name, cmd, err)
		}
	}
	serveSTT, _, _ := root.Find([]string{"serve-stt"})
	if def := serveSTT.Flags().Lookup("port").DefValue; def != "8001" {
		t.Errorf("expected serve-stt default port 8001, got %s", def)
	}
	serve, _, _ := root.Find([]string{"serve"})
	if def := serve.Flags().Lookup("port").DefValue; def != "8000" {
		t.Errorf("expected serve default port 8000, got %s", def)
	}
}

func TestFetchModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/models/iic/SenseVoiceSmall/repo/files":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"Code": 200,
				"Data": map[string]any{"Files": []map[string]any{
					{"Name": "config.yaml", "Path": "config.yaml", "Type": "blob", "Size": 4},
				}},
			})
		case "/api/v1/models/iic/SenseVoiceSmall/repo":
			_, _ = w.Write([]byte("a: 1"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	dir := t.TempDir()

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"fetch-model", "--endpoint", srv.URL, "--cache-dir", dir, "--model", "iic/SenseVoiceSmall"})
	if err := root.Execute(); err != nil {
		t.Fatalf("fetch-model: %v", err)
	}

	want := filepath.Join(dir, "iic", "SenseVoiceSmall")
	if !strings.Contains(out.String(), want) {
		t.Errorf("expected output to name %s, got %q", want, out.String())
	}
	if b, err := os.ReadFile(filepath.Join(want, "config.yaml")); err != nil || string(b) != "a: 1" {
		t.Errorf("unexpected file %q, %v", b, err)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := &config.Configuration{
		Service: config.ServiceConfig{Principal: "test-svc"},
		HTTP: config.HTTPConfig{
			Host:            "127.0.0.1",
			STTPort:         0,
			ShutdownTimeout: time.Second,
		},
		STT: config.STTConfig{
			Engine:      "mock",
			TempDir:     t.TempDir(),
			Workers:     1,
			InitTimeout: time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Serve(ctx, cfg, httpapi.ModeSTT) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_UnknownEngine(t *testing.T) {
	cfg := &config.Configuration{STT: config.STTConfig{Engine: "nope"}}

	if err := Serve(context.Background(), cfg, httpapi.ModeSTT); err == nil {
		t.Error("expected error for unknown engine")
	}
}
