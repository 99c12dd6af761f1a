// Package models defines the request, response and event structures shared
// across the service.
package models

// UnknownLanguage is reported when neither the engine nor the output tags
// name a language.
const UnknownLanguage = "unknown"

// TranscriptionResult is the outcome of one engine call.
type TranscriptionResult struct {
	RawText          string `json:"raw_text"`
	ProcessedText    string `json:"processed_text"`
	DetectedLanguage string `json:"detected_language"`
}

// FileInfo describes an uploaded audio file.
type FileInfo struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// TranscribeResponse is the body of a successful POST /transcribe.
type TranscribeResponse struct {
	Success          bool     `json:"success"`
	Text             string   `json:"text"`
	RawText          string   `json:"raw_text"`
	DetectedLanguage string   `json:"detected_language"`
	FileInfo         FileInfo `json:"file_info"`
}

// NewTranscribeResponse combines a result with its file metadata.
func NewTranscribeResponse(r TranscriptionResult, f FileInfo) TranscribeResponse {
	return TranscribeResponse{
		Success:          true,
		Text:             r.ProcessedText,
		RawText:          r.RawText,
		DetectedLanguage: r.DetectedLanguage,
		FileInfo:         f,
	}
}
