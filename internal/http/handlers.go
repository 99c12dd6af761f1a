package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"

	"chat-stt-gateway/internal/app"
	"chat-stt-gateway/internal/engine"
	"chat-stt-gateway/internal/models"
	"chat-stt-gateway/internal/observability/logging"
	"chat-stt-gateway/internal/service/chat"
	"chat-stt-gateway/internal/service/relay"
	"chat-stt-gateway/internal/service/transcription"
	"chat-stt-gateway/internal/worker"
)

const (
	audioField      = "audio"
	maxChatBodySize = 1 << 20
	publishTimeout  = 5 * time.Second
)

// Error details returned to clients.
const (
	detailNotReady    = "STT model is not initialized or failed to initialize"
	detailNoAudio     = "multipart field \"audio\" is required"
	detailTooLarge    = "audio upload exceeds the size limit"
	detailEmptyUpload = "uploaded audio is empty"
	detailBadJSON     = "request body must be a JSON object"
	detailNoQuery     = "query is required"
)

type handlers struct {
	app  *app.Application
	mode Mode
}

func (h *handlers) port() int {
	if h.mode == ModeIntegrated {
		return h.app.Cfg.HTTP.Port
	}
	return h.app.Cfg.HTTP.STTPort
}

func (h *handlers) root(w http.ResponseWriter, r *http.Request) {
	ready := h.app.Engine.Ready()
	if h.mode == ModeSTT {
		status := "not_initialized"
		if ready {
			status = "initialized"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":      "STT speech-to-text service",
			"model_status": status,
			"engine":       h.app.Cfg.STT.Engine,
		})
		return
	}

	status := "not_ready"
	if ready {
		status = "ready"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":          "Dify + STT Integrated API",
		"status":           "running",
		"port":             h.port(),
		"apis":             []string{"/chat (POST)", "/transcribe (POST)"},
		"stt_model_status": status,
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ready := h.app.Engine.Ready()
	if h.mode == ModeSTT {
		status := "model_not_ready"
		if ready {
			status = "healthy"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":            status,
			"model_initialized": ready,
		})
		return
	}

	dify := "healthy"
	if err := h.app.Chat.Health(r.Context()); err != nil {
		var uerr *chat.UpstreamError
		if errors.As(err, &uerr) {
			dify = "error"
		} else {
			dify = "unavailable"
		}
		hlog.FromRequest(r).Debug().Err(err).Msg("Conversational API health check failed")
	}
	overall := "degraded"
	if ready && dify == "healthy" {
		overall = "healthy"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"overall_status": overall,
		"stt_model":      map[string]any{"initialized": ready},
		"dify_service":   map[string]any{"status": dify},
	})
}

func (h *handlers) modelInfo(w http.ResponseWriter, r *http.Request) {
	if !h.app.Engine.Ready() {
		writeJSON(w, http.StatusOK, map[string]any{
			"error":  "model not initialized",
			"status": strings.ToLower(h.app.Engine.State().String()),
		})
		return
	}

	info := h.app.Engine.Info()
	langs := make([]string, len(engine.SupportedLanguages))
	for i, l := range engine.SupportedLanguages {
		langs[i] = string(l)
	}
	features := info.Features
	if features == nil {
		features = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model_path":          h.app.ModelPath(),
		"engine":              info.Name,
		"supported_languages": langs,
		"features":            features,
		"status":              "ready",
	})
}

func (h *handlers) transcribe(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	lang, err := engine.ParseLanguage(r.URL.Query().Get("language"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if limit := h.app.Cfg.STT.MaxUploadBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	part, err := audioPart(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, detailTooLarge)
			return
		}
		logger.Debug().Err(err).Msg("No audio part in upload")
		writeError(w, http.StatusUnprocessableEntity, detailNoAudio)
		return
	}
	defer part.Close()

	resp, err := h.app.Gateway.Transcribe(r.Context(), transcription.Upload{
		RequestID:   middleware.GetReqID(r.Context()),
		Filename:    part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
		Language:    lang,
		Body:        part,
	})
	if err != nil {
		status, detail := transcribeErrorStatus(err)
		writeError(w, status, detail)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// audioPart advances the multipart stream to the audio file part without
// buffering the body.
func audioPart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == audioField {
			return part, nil
		}
		_ = part.Close()
	}
}

func transcribeErrorStatus(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, engine.ErrNotReady):
		return http.StatusServiceUnavailable, detailNotReady
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, detailTooLarge
	case errors.Is(err, transcription.ErrEmptyUpload):
		return http.StatusBadRequest, detailEmptyUpload
	case errors.Is(err, transcription.ErrUploadRead):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, worker.ErrNotScheduled):
		return http.StatusServiceUnavailable, "transcription was not scheduled: " + err.Error()
	default:
		return http.StatusInternalServerError, "transcription failed: " + err.Error()
	}
}

func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, detailBadJSON)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusUnprocessableEntity, detailNoQuery)
		return
	}

	sessionID := uuid.NewString()
	logger := logging.WithSession(sessionID, req.ConversationID)
	logger.Info().
		Str("query", truncate(req.Query, 50)).
		Msg("Forwarding chat request")

	body, err := h.app.Chat.Stream(r.Context(), req)
	if err != nil {
		var uerr *chat.UpstreamError
		if errors.As(err, &uerr) {
			h.app.Metrics.RecordUpstreamError("status")
			writeError(w, uerr.StatusCode, fmt.Sprintf("upstream request failed: %d - %s", uerr.StatusCode, uerr.Body))
			return
		}
		h.app.Metrics.RecordUpstreamError("unavailable")
		writeError(w, http.StatusServiceUnavailable, "upstream service unavailable: "+err.Error())
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	rl := relay.New(body,
		relay.WithDelay(h.app.Cfg.Chat.EventDelay),
		relay.WithSessionID(sessionID),
		relay.WithLogger(logger),
		relay.WithMetrics(h.app.Metrics),
		relay.WithOnFinish(h.publishSession),
	)
	for frame := range rl.Frames(r.Context()) {
		if _, err := w.Write(frame); err != nil {
			logger.Debug().Err(err).Msg("Client went away")
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			logger.Debug().Err(err).Msg("Flush failed")
			return
		}
	}
}

func (h *handlers) publishSession(s relay.Summary) {
	ev := models.ChatSessionEvent{
		EventType:      models.EventChatSessionCompleted,
		SessionID:      s.SessionID,
		ConversationID: s.ConversationID,
		MessageID:      s.MessageID,
		Timestamp:      time.Now().UnixMilli(),
		Outcome:        string(s.Outcome),
		Events:         s.Events,
		EventsByKind:   s.EventsByKind,
		AnswerLength:   s.AnswerLength,
		Finished:       s.Finished,
		Error:          s.Error,
		DurationMs:     s.Duration.Milliseconds(),
	}
	h.app.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := h.app.Publisher.PublishChat(ctx, s.SessionID, ev); err != nil {
			h.app.Logger.Warn().Err(err).Str("sessionId", s.SessionID).Msg("Failed to publish chat session event")
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
