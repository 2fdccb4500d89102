package api

import (
	"context"
	"io"
)

// Transcriber converts audio to text
type Transcriber interface {
	Transcribe(ctx context.Context, name string, audio io.Reader, params map[string]string) (*TranscriptionResult, error)
	Live(ctx context.Context) error
}

// ResultSegment is one timed utterance returned by the engine
type ResultSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// TranscriptionResult is the engine's transcription response
type TranscriptionResult struct {
	Language string          `json:"language"`
	Text     string          `json:"text"`
	Segments []ResultSegment `json:"segments"`
}

// File form field name
const (
	PrmFile     = "file"
	PrmLanguage = "language"
	PrmModel    = "model"
	PrmDiarize  = "diarize"
)
