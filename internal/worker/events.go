package worker

import "github.com/book-expert/events"

// ConversionRequestedEvent asks for Text to be spoken in the voice of the
// reference audio stored under ReferenceAudioKey.
type ConversionRequestedEvent struct {
	Header            events.EventHeader `json:"header"`
	ReferenceAudioKey string             `json:"reference_audio_key"`
	Text              string             `json:"text"`
	Style             string             `json:"style"`
}

// ConversionCompletedEvent is the reply to a successful request.
type ConversionCompletedEvent struct {
	Header          events.EventHeader `json:"header"`
	AudioKey        string             `json:"audio_key"`
	SourceEmbedding string             `json:"source_embedding"`
	TargetEmbedding string             `json:"target_embedding"`
}

// ConversionFailedEvent is the reply to a failed request.
type ConversionFailedEvent struct {
	Header      events.EventHeader `json:"header"`
	FailedStage string             `json:"failed_stage"`
	Error       string             `json:"error"`
}
