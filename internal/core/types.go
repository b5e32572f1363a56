package core

import (
	"fmt"
	"slices"
	"time"
)

// Embedding is an immutable, named speaker-embedding vector.
type Embedding struct {
	name   string
	values []float32
}

// NewEmbedding copies values into a new embedding.
func NewEmbedding(name string, values []float32) Embedding {
	return Embedding{name: name, values: slices.Clone(values)}
}

// Name returns the embedding identifier.
func (e Embedding) Name() string {
	return e.name
}

// Dim returns the vector length.
func (e Embedding) Dim() int {
	return len(e.values)
}

// Values returns a copy of the vector.
func (e Embedding) Values() []float32 {
	return slices.Clone(e.values)
}

// IsZero reports whether the embedding carries no vector.
func (e Embedding) IsZero() bool {
	return len(e.values) == 0
}

// Style selects the preset used for base synthesis and the source embedding.
type Style string

// Supported styles.
const (
	StyleDefault Style = "default"
	StyleStyle   Style = "style"
)

// Styles lists every declared style in presentation order.
func Styles() []Style {
	return []Style{StyleDefault, StyleStyle}
}

// ParseStyle maps a selector onto the enumeration.
func ParseStyle(value string) (Style, error) {
	style := Style(value)
	if !slices.Contains(Styles(), style) {
		return "", fmt.Errorf("%w: %q", ErrUnknownStyle, value)
	}

	return style, nil
}

// Speaker is the synthesizer voice token for the style.
func (s Style) Speaker() string {
	return string(s)
}

// String implements fmt.Stringer.
func (s Style) String() string {
	return string(s)
}

// ConversionRequest is one text-to-cloned-voice job.
type ConversionRequest struct {
	// ID is generated when empty.
	ID             string
	ReferenceAudio []byte
	Text           string
	Style          string
	// OutputPath optionally receives a copy of the final audio.
	OutputPath string
}

// ConversionResult is the outcome of a successful request.
type ConversionResult struct {
	RequestID       string
	Audio           []byte
	OutputPath      string
	SourceEmbedding string
	TargetEmbedding string
	Stages          []Stage
	Elapsed         time.Duration
}
