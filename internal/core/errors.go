package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories. Every pipeline failure wraps exactly one of these.
var (
	// ErrInvalidInput indicates missing or malformed request fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnknownStyle indicates a style outside the declared enumeration.
	ErrUnknownStyle = errors.New("unknown style")
	// ErrUnknownEmbedding indicates an embedding name that is not registered.
	ErrUnknownEmbedding = errors.New("unknown embedding")
	// ErrFetch indicates a failed remote embedding download.
	ErrFetch = errors.New("embedding fetch failed")
	// ErrModelLoad indicates a model bundle could not be constructed.
	ErrModelLoad = errors.New("model load failed")
	// ErrExtraction indicates the extractor could not embed the reference audio.
	ErrExtraction = errors.New("embedding extraction failed")
	// ErrSynthesis indicates base synthesis failed.
	ErrSynthesis = errors.New("synthesis failed")
	// ErrConversion indicates tone-color conversion failed.
	ErrConversion = errors.New("conversion failed")
	// ErrCanceled indicates the request was canceled between stages.
	ErrCanceled = errors.New("request canceled")
)

// categories is ordered so that cancellation wins over the stage category it interrupted.
var categories = []error{
	ErrCanceled,
	ErrInvalidInput,
	ErrUnknownEmbedding,
	ErrFetch,
	ErrModelLoad,
	ErrExtraction,
	ErrSynthesis,
	ErrConversion,
}

// Stage is a pipeline state.
type Stage int

// Pipeline states in traversal order.
const (
	StageValidating Stage = iota
	StageExtractingEmbedding
	StageSynthesizing
	StageConverting
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageValidating:
		return "validating"
	case StageExtractingEmbedding:
		return "extracting_embedding"
	case StageSynthesizing:
		return "synthesizing"
	case StageConverting:
		return "converting"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// InvalidInputError lists every request field that failed validation.
type InvalidInputError struct {
	Fields []string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidInput, strings.Join(e.Fields, "; "))
}

// Is matches ErrInvalidInput.
func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// StageError is the single failure value returned by the pipeline.
type StageError struct {
	RequestID string
	Stage     Stage
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("request %s failed at %s: %v", e.RequestID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Category returns the taxonomy sentinel the failure belongs to.
func (e *StageError) Category() error {
	for _, category := range categories {
		if errors.Is(e.Err, category) {
			return category
		}
	}

	return ErrConversion
}

// UserMessage renders the failure without collaborator detail or filesystem paths.
func (e *StageError) UserMessage() string {
	var invalid *InvalidInputError
	if errors.As(e.Err, &invalid) {
		return fmt.Sprintf("%s: %s", e.Stage, invalid.Error())
	}

	return fmt.Sprintf("%s: %s", e.Stage, e.Category())
}
