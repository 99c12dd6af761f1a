// Package transcription turns an uploaded audio file into text.
//
// The gateway checks engine readiness before touching the disk, spools the
// upload to a temp file, runs the engine on the worker pool and removes the
// temp file once the engine is done with it, whatever the outcome.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-stt-gateway/internal/engine"
	"chat-stt-gateway/internal/models"
	"chat-stt-gateway/internal/observability/metrics"
	"chat-stt-gateway/internal/service/postprocess"
	"chat-stt-gateway/internal/worker"
)

// AllowedContentTypes are the expected upload types. Others are accepted
// with a warning.
var AllowedContentTypes = []string{"audio/wav", "audio/mp3", "audio/mpeg", "audio/ogg", "audio/webm"}

// Errors returned by Transcribe.
var (
	ErrEmptyUpload         = errors.New("uploaded audio is empty")
	ErrUploadRead          = errors.New("failed to read upload")
	ErrTranscriptionFailed = errors.New("transcription failed")
)

const (
	defaultSuffix  = ".wav"
	publishTimeout = 5 * time.Second
)

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// Publisher receives transcription events.
type Publisher interface {
	PublishTranscription(ctx context.Context, key string, event any) error
}

// Config holds gateway settings.
type Config struct {
	EngineName string
	TempDir    string // empty uses os.TempDir()
}

// Upload is one incoming audio file.
type Upload struct {
	RequestID   string
	Filename    string
	ContentType string
	Language    engine.Language
	Body        io.Reader
}

// Gateway coordinates uploads, the engine and the worker pool.
type Gateway struct {
	cfg       Config
	holder    *engine.Holder
	pool      *worker.Pool
	publisher Publisher
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	wg        sync.WaitGroup
}

// NewGateway creates a gateway. publisher may be nil.
func NewGateway(cfg Config, holder *engine.Holder, pool *worker.Pool, publisher Publisher, logger zerolog.Logger, m *metrics.Metrics) *Gateway {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Gateway{
		cfg:       cfg,
		holder:    holder,
		pool:      pool,
		publisher: publisher,
		logger:    logger.With().Str("component", "transcription").Str("engine", cfg.EngineName).Logger(),
		metrics:   m,
	}
}

// Transcribe runs one upload through the engine.
func (g *Gateway) Transcribe(ctx context.Context, up Upload) (models.TranscribeResponse, error) {
	if up.RequestID == "" {
		up.RequestID = uuid.NewString()
	}
	logger := g.logger.With().Str("requestId", up.RequestID).Logger()

	eng, err := g.holder.Engine()
	if err != nil {
		g.metrics.RecordTranscriptionRejected(g.cfg.EngineName, "not_ready")
		return models.TranscribeResponse{}, err
	}

	if !allowedContentType(up.ContentType) {
		logger.Warn().
			Str("contentType", up.ContentType).
			Str("filename", up.Filename).
			Msg("Unexpected audio content type, continuing")
	}

	path, size, err := g.spool(up)
	if err != nil {
		if errors.Is(err, ErrEmptyUpload) {
			g.metrics.RecordTranscriptionRejected(g.cfg.EngineName, "empty")
		}
		return models.TranscribeResponse{}, err
	}
	g.metrics.RecordUpload(size)

	cleanup := sync.OnceFunc(func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			g.metrics.RecordTempFileError("cleanup")
			logger.Warn().Err(err).Str("path", path).Msg("Failed to remove temp file")
		}
	})

	lang := up.Language
	if lang == "" {
		lang = engine.LanguageAuto
	}
	req := engine.Request{AudioPath: path, Language: lang}
	engineCtx := context.WithoutCancel(ctx)

	start := time.Now()
	records, err := worker.Submit(ctx, g.pool, func() ([]engine.Record, error) {
		defer cleanup()
		return eng.Transcribe(engineCtx, req)
	})
	latency := time.Since(start)
	if errors.Is(err, worker.ErrNotScheduled) {
		cleanup()
	}
	g.metrics.RecordTranscription(g.cfg.EngineName, err, latency.Seconds())
	if err != nil {
		logger.Error().Err(err).Dur("latency", latency).Msg("Transcription failed")
		if errors.Is(err, worker.ErrNotScheduled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return models.TranscribeResponse{}, err
		}
		return models.TranscribeResponse{}, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}

	result := buildResult(records)
	info := models.FileInfo{Filename: up.Filename, Size: size, ContentType: up.ContentType}

	logger.Info().
		Str("language", string(lang)).
		Str("detectedLanguage", result.DetectedLanguage).
		Int64("bytes", size).
		Dur("latency", latency).
		Msg("Transcription completed")

	g.publish(up, lang, result, info, latency)
	return models.NewTranscribeResponse(result, info), nil
}

// Wait blocks until in-flight event publishes finish.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

func (g *Gateway) spool(up Upload) (string, int64, error) {
	f, err := os.CreateTemp(g.cfg.TempDir, "upload-*"+suffixFor(up.Filename))
	if err != nil {
		g.metrics.RecordTempFileError("write")
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()

	n, copyErr := io.Copy(f, up.Body)
	closeErr := f.Close()

	fail := func(err error) (string, int64, error) {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			g.metrics.RecordTempFileError("cleanup")
		}
		return "", 0, err
	}
	switch {
	case copyErr != nil:
		return fail(fmt.Errorf("%w: %w", ErrUploadRead, copyErr))
	case closeErr != nil:
		g.metrics.RecordTempFileError("write")
		return fail(fmt.Errorf("write temp file: %w", closeErr))
	case n == 0:
		return fail(ErrEmptyUpload)
	}
	return path, n, nil
}

func (g *Gateway) publish(up Upload, lang engine.Language, r models.TranscriptionResult, info models.FileInfo, latency time.Duration) {
	if g.publisher == nil {
		return
	}
	ev := models.TranscriptionEvent{
		EventType:        models.EventTranscriptionCompleted,
		RequestID:        up.RequestID,
		Timestamp:        time.Now().UnixMilli(),
		Engine:           g.cfg.EngineName,
		Language:         string(lang),
		DetectedLanguage: r.DetectedLanguage,
		Text:             r.ProcessedText,
		RawText:          r.RawText,
		AudioBytes:       info.Size,
		ContentType:      info.ContentType,
		LatencyMs:        latency.Milliseconds(),
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := g.publisher.PublishTranscription(ctx, up.RequestID, ev); err != nil {
			g.logger.Warn().Err(err).Str("requestId", up.RequestID).Msg("Failed to publish transcription event")
		}
	}()
}

func buildResult(records []engine.Record) models.TranscriptionResult {
	if len(records) == 0 {
		return models.TranscriptionResult{DetectedLanguage: models.UnknownLanguage}
	}
	raw := records[0].Text
	lang := records[0].Language
	if lang == "" {
		lang = postprocess.LeadingLanguage(raw)
	}
	if lang == "" {
		lang = models.UnknownLanguage
	}
	return models.TranscriptionResult{
		RawText:          raw,
		ProcessedText:    postprocess.Rich(raw),
		DetectedLanguage: lang,
	}
}

func suffixFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if !safeExt.MatchString(ext) {
		return defaultSuffix
	}
	return ext
}

func allowedContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	for _, a := range AllowedContentTypes {
		if ct == a {
			return true
		}
	}
	return false
}
