// Package google provides a Google Cloud Speech-to-Text recognition engine.
package google

import (
	"context"
	"fmt"
	"os"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"

	"chat-stt-gateway/internal/engine"
)

// Config holds Google STT configuration.
type Config struct {
	LanguageCode  string // used for the "auto" hint
	SampleRateHz  int    // 0 lets the service read it from the file header
	AudioEncoding string // LINEAR16, FLAC, OGG_OPUS, WEBM_OPUS ...
	Model         string
}

// DefaultConfig returns the default Google STT configuration.
func DefaultConfig() Config {
	return Config{
		LanguageCode:  "en-US",
		SampleRateHz:  0,
		AudioEncoding: "ENCODING_UNSPECIFIED",
	}
}

// languageCodes maps engine hints to BCP-47 codes.
var languageCodes = map[engine.Language]string{
	engine.LanguageChinese:   "cmn-Hans-CN",
	engine.LanguageEnglish:   "en-US",
	engine.LanguageCantonese: "yue-Hant-HK",
	engine.LanguageJapanese:  "ja-JP",
	engine.LanguageKorean:    "ko-KR",
}

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// Engine implements engine.Engine using synchronous Recognize calls.
type Engine struct {
	cfg       Config
	recognize recognizeFunc
	close     func() error
}

// Loader creates the speech client.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func Loader(cfg Config) engine.Loader {
	return func(ctx context.Context) (engine.Engine, error) {
		c, err := speech.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("google: create speech client: %w", err)
		}
		return &Engine{
			cfg: cfg,
			recognize: func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
				return c.Recognize(ctx, req)
			},
			close: c.Close,
		}, nil
	}
}

// Transcribe reads the audio file and sends it in one Recognize request.
func (e *Engine) Transcribe(ctx context.Context, req engine.Request) ([]engine.Record, error) {
	audio, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("google: read audio: %w", err)
	}

	resp, err := e.recognize(ctx, &speechpb.RecognizeRequest{
		Config: e.recognitionConfig(req.Language),
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("google: recognize: %w", err)
	}

	var parts []string
	var lang string
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		if t := strings.TrimSpace(r.GetAlternatives()[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
		if lang == "" {
			lang = r.GetLanguageCode()
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return []engine.Record{{Text: strings.Join(parts, " "), Language: shortLanguage(lang)}}, nil
}

func (e *Engine) recognitionConfig(lang engine.Language) *speechpb.RecognitionConfig {
	rc := &speechpb.RecognitionConfig{
		Encoding:                   parseAudioEncoding(e.cfg.AudioEncoding),
		SampleRateHertz:            int32(e.cfg.SampleRateHz),
		EnableAutomaticPunctuation: true,
		Model:                      e.cfg.Model,
	}
	if code, ok := languageCodes[lang]; ok {
		rc.LanguageCode = code
		return rc
	}

	// auto: primary code plus alternatives, up to the service limit of three.
	rc.LanguageCode = e.cfg.LanguageCode
	for _, l := range engine.SupportedLanguages {
		code, ok := languageCodes[l]
		if !ok || strings.EqualFold(code, rc.LanguageCode) {
			continue
		}
		if len(rc.AlternativeLanguageCodes) == 3 {
			break
		}
		rc.AlternativeLanguageCodes = append(rc.AlternativeLanguageCodes, code)
	}
	return rc
}

// shortLanguage turns a BCP-47 code back into an engine hint where possible.
func shortLanguage(code string) string {
	code = strings.ToLower(code)
	for l, c := range languageCodes {
		if strings.ToLower(c) == code {
			return string(l)
		}
	}
	if i := strings.IndexByte(code, '-'); i > 0 {
		return code[:i]
	}
	return code
}

// Info describes the Google model.
func (e *Engine) Info() engine.Info {
	model := e.cfg.Model
	if model == "" {
		model = "default"
	}
	return engine.Info{
		Name:      "google",
		ModelPath: "google-cloud-speech/" + model,
		Features:  []string{"automatic punctuation", "alternative languages"},
	}
}

// Close releases the speech client.
func (e *Engine) Close() error {
	if e.close != nil {
		return e.close()
	}
	return nil
}

// parseAudioEncoding converts string to Google Speech audio encoding.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}
