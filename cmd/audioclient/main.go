// Command audioclient uploads a WAV file to the /transcribe endpoint and
// prints the result.
package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"chat-stt-gateway/internal/models"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

type wavInfo struct {
	format        uint16
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
}

func readWAVHeader(data []byte) (wavInfo, error) {
	if len(data) < wavHeaderSize {
		return wavInfo{}, fmt.Errorf("file too short for a WAV header (%d bytes)", len(data))
	}
	header := data[:wavHeaderSize]
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return wavInfo{}, fmt.Errorf("not a valid WAV file")
	}
	return wavInfo{
		format:        binary.LittleEndian.Uint16(header[20:22]),
		channels:      binary.LittleEndian.Uint16(header[22:24]),
		sampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		bitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
	}, nil
}

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	serverURL := flag.String("server", "http://localhost:8001", "Gateway base URL")
	language := flag.String("language", "auto", "Language hint: auto, zh, en, yue, ja, ko")
	grpcAddr := flag.String("grpc", "", "Check gRPC health at this address before uploading")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	data, err := os.ReadFile(*audioFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to read audio file")
	}

	info, err := readWAVHeader(data)
	if err != nil {
		logger.Fatal().Err(err).Str("file", *audioFile).Msg("Invalid audio")
	}
	logger.Info().
		Uint16("format", info.format).
		Uint16("channels", info.channels).
		Uint32("sampleRate", info.sampleRate).
		Uint16("bitsPerSample", info.bitsPerSample).
		Msg("WAV file")
	if info.format != 1 { // PCM
		logger.Warn().Msg("Non-PCM WAV, the engine may reject it")
	}
	if info.sampleRate != 16000 {
		logger.Warn().Uint32("sampleRate", info.sampleRate).Msg("Sample rate is not 16000 Hz")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	if *grpcAddr != "" {
		if err := checkHealth(ctx, *grpcAddr); err != nil {
			logger.Fatal().Err(err).Str("addr", *grpcAddr).Msg("Gateway not serving")
		}
		logger.Info().Str("addr", *grpcAddr).Msg("Gateway is serving")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, filepath.Base(*audioFile)))
	h.Set("Content-Type", "audio/wav")
	part, err := mw.CreatePart(h)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build request")
	}
	_, _ = part.Write(data)
	_ = mw.Close()

	url := fmt.Sprintf("%s/transcribe?language=%s", *serverURL, *language)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Fatal().Err(err).Msg("Upload failed")
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		logger.Fatal().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("Transcription failed")
	}

	var out models.TranscribeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		logger.Fatal().Err(err).Msg("Unexpected response")
	}
	logger.Info().
		Str("language", out.DetectedLanguage).
		Int64("bytes", out.FileInfo.Size).
		Dur("took", time.Since(start)).
		Msg("Transcription completed")
	fmt.Println(out.Text)
}

func checkHealth(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "stt.Transcription"})
	if err != nil {
		return err
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("status %s", resp.GetStatus())
	}
	return nil
}
