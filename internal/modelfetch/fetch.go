// Package modelfetch downloads a model snapshot from a ModelScope-compatible
// hub into a local cache directory.
package modelfetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrChecksumMismatch means a downloaded file did not match its sha256.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrUnsafePath means the hub listed a path outside the model directory.
	ErrUnsafePath = errors.New("unsafe file path")
)

// Config describes what to fetch and where.
type Config struct {
	Endpoint    string // e.g. https://www.modelscope.cn
	ModelID     string // e.g. iic/SenseVoiceSmall
	Revision    string
	CacheDir    string
	Concurrency int
}

// File is one entry of the repository listing.
type File struct {
	Name   string `json:"Name"`
	Path   string `json:"Path"`
	Type   string `json:"Type"` // "blob" or "tree"
	Size   int64  `json:"Size"`
	Sha256 string `json:"Sha256"`
}

type listResponse struct {
	Code    int    `json:"Code"`
	Message string `json:"Message"`
	Data    struct {
		Files []File `json:"Files"`
	} `json:"Data"`
}

// Result summarizes a fetch.
type Result struct {
	Dir        string
	Downloaded int
	Skipped    int
	Bytes      int64
}

// Fetcher talks to the hub.
type Fetcher struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

// New creates a Fetcher. client may be nil.
func New(cfg Config, client *http.Client, logger zerolog.Logger) *Fetcher {
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Revision == "" {
		cfg.Revision = "master"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	return &Fetcher{
		cfg:    cfg,
		http:   client,
		logger: logger.With().Str("component", "modelfetch").Str("model", cfg.ModelID).Logger(),
	}
}

// ModelDir is where the snapshot lands.
func (f *Fetcher) ModelDir() string {
	return filepath.Join(f.cfg.CacheDir, filepath.FromSlash(f.cfg.ModelID))
}

// ListFiles returns the blobs of the model repository.
func (f *Fetcher) ListFiles(ctx context.Context) ([]File, error) {
	q := url.Values{}
	q.Set("Revision", f.cfg.Revision)
	q.Set("Recursive", "true")
	u := fmt.Sprintf("%s/api/v1/models/%s/repo/files?%s", f.cfg.Endpoint, f.cfg.ModelID, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list files: unexpected status %d", resp.StatusCode)
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("list files: decode: %w", err)
	}
	if lr.Code != 0 && lr.Code != http.StatusOK {
		return nil, fmt.Errorf("list files: hub error %d: %s", lr.Code, lr.Message)
	}

	files := make([]File, 0, len(lr.Data.Files))
	for _, file := range lr.Data.Files {
		if file.Type == "tree" {
			continue
		}
		files = append(files, file)
	}
	return files, nil
}

// Fetch downloads every file not already present with the expected size.
func (f *Fetcher) Fetch(ctx context.Context) (Result, error) {
	files, err := f.ListFiles(ctx)
	if err != nil {
		return Result{}, err
	}
	dir := f.ModelDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, err
	}

	res := make([]struct {
		skipped bool
		n       int64
	}, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i, file := range files {
		g.Go(func() error {
			dst, err := localPath(dir, file.Path)
			if err != nil {
				return err
			}
			if st, err := os.Stat(dst); err == nil && st.Size() == file.Size {
				res[i].skipped = true
				f.logger.Debug().Str("file", file.Path).Msg("Already present, skipping")
				return nil
			}
			n, err := f.download(gctx, file, dst)
			if err != nil {
				return fmt.Errorf("%s: %w", file.Path, err)
			}
			res[i].n = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{Dir: dir}, err
	}

	out := Result{Dir: dir}
	for _, r := range res {
		if r.skipped {
			out.Skipped++
			continue
		}
		out.Downloaded++
		out.Bytes += r.n
	}
	f.logger.Info().
		Str("dir", dir).
		Int("downloaded", out.Downloaded).
		Int("skipped", out.Skipped).
		Int64("bytes", out.Bytes).
		Msg("Model snapshot ready")
	return out, nil
}

func (f *Fetcher) download(ctx context.Context, file File, dst string) (int64, error) {
	q := url.Values{}
	q.Set("Revision", f.cfg.Revision)
	q.Set("FilePath", file.Path)
	u := fmt.Sprintf("%s/api/v1/models/%s/repo?%s", f.cfg.Endpoint, f.cfg.ModelID, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, err
	}
	if file.Sha256 != "" {
		if sum := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(sum, file.Sha256) {
			return 0, fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, sum, file.Sha256)
		}
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, err
	}
	f.logger.Info().Str("file", file.Path).Int64("bytes", n).Msg("Downloaded")
	return n, nil
}

func localPath(dir, p string) (string, error) {
	rel := filepath.FromSlash(p)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, p)
	}
	return filepath.Join(dir, rel), nil
}
