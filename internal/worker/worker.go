// Package worker serves voice conversion requests arriving over NATS.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRequestTimeout = 5 * time.Minute
	drainTimeout          = 30 * time.Second
	audioKeySuffix        = ".wav"
)

// Failure stages outside the pipeline.
const (
	StageDecoding    = "decoding"
	StageDownloading = "downloading_reference"
	StageUploading   = "uploading_result"
)

// Error messages sent back to requesters.
const (
	msgMalformedEvent   = "malformed conversion request"
	msgReferenceMissing = "reference audio unavailable"
	msgUploadFailed     = "converted audio could not be stored"
	msgInternal         = "internal error"
)

// ErrNoReplySubject indicates a request that cannot be answered.
var ErrNoReplySubject = errors.New("message has no reply subject")

// AudioStore holds reference audio and conversion results.
type AudioStore interface {
	core.ObjectStore
	Delete(ctx context.Context, key string) error
}

// Submitter runs one conversion request.
type Submitter interface {
	Submit(ctx context.Context, req core.ConversionRequest) (*core.ConversionResult, error)
}

// Options tunes the worker.
type Options struct {
	Subject        string
	MaxConcurrent  int
	RequestTimeout time.Duration
}

// NatsWorker listens for conversion requests on a NATS subject and replies to each.
type NatsWorker struct {
	natsConnection *nats.Conn
	store          AudioStore
	submitter      Submitter
	opts           Options
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	store AudioStore,
	submitter Submitter,
	opts Options,
	log *logger.Logger,
) *NatsWorker {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}

	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		store:          store,
		submitter:      submitter,
		opts:           opts,
		log:            log,
	}
}

// Run subscribes and serves requests until ctx is done. In-flight requests
// finish before Run returns.
func (w *NatsWorker) Run(ctx context.Context) error {
	var group errgroup.Group

	group.SetLimit(w.opts.MaxConcurrent)

	sub, err := w.natsConnection.Subscribe(w.opts.Subject, func(msg *nats.Msg) {
		// Blocks delivery while every slot is busy.
		group.Go(func() error {
			w.handleMessage(msg)

			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.opts.Subject, err)
	}

	w.log.System("Listening for conversion requests on %s (max concurrent: %d)",
		w.opts.Subject, w.opts.MaxConcurrent)

	<-ctx.Done()

	closed := sub.StatusChanged(nats.SubscriptionClosed)

	drainErr := sub.Drain()
	if drainErr == nil {
		select {
		case <-closed:
		case <-time.After(drainTimeout):
			w.log.Warn("Subscription drain on %s timed out", w.opts.Subject)
		}
	}

	_ = group.Wait()

	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.RequestTimeout)
	defer cancel()

	var event ConversionRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal conversion request: %v", err)
		w.replyFailure(msg, &ConversionFailedEvent{FailedStage: StageDecoding, Error: msgMalformedEvent})

		return
	}

	reply, err := w.process(ctx, &event)
	if err != nil {
		w.log.Error("Conversion for workflow %s failed: %v", event.Header.WorkflowID, err)
		w.replyFailure(msg, failureFor(&event, err))

		return
	}

	err = w.respond(msg, reply)
	if err != nil {
		w.log.Error("Failed to publish reply for workflow %s: %v", event.Header.WorkflowID, err)

		// Nobody will ever learn the key, so the result is an orphan.
		deleteErr := w.store.Delete(context.WithoutCancel(ctx), reply.AudioKey)
		if deleteErr != nil {
			w.log.Warn("Failed to delete orphaned result %s: %v", reply.AudioKey, deleteErr)
		}
	}
}

// process downloads the reference, runs the pipeline and stores the result.
func (w *NatsWorker) process(ctx context.Context, event *ConversionRequestedEvent) (*ConversionCompletedEvent, error) {
	requestID := event.Header.EventID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	w.log.Info("Conversion request %s received (workflow: %s, style: %s)",
		requestID, event.Header.WorkflowID, event.Style)

	reference, err := w.store.Download(ctx, event.ReferenceAudioKey)
	if err != nil {
		return nil, &stepError{stage: StageDownloading, message: msgReferenceMissing, err: err}
	}

	result, err := w.submitter.Submit(ctx, core.ConversionRequest{
		ID:             requestID,
		ReferenceAudio: reference,
		Text:           event.Text,
		Style:          event.Style,
	})
	if err != nil {
		return nil, err
	}

	audioKey := uuid.NewString() + audioKeySuffix

	err = w.store.Upload(ctx, audioKey, result.Audio)
	if err != nil {
		return nil, &stepError{stage: StageUploading, message: msgUploadFailed, err: err}
	}

	w.log.Info("Conversion request %s stored as %s", requestID, audioKey)

	return &ConversionCompletedEvent{
		Header:          event.Header,
		AudioKey:        audioKey,
		SourceEmbedding: result.SourceEmbedding,
		TargetEmbedding: result.TargetEmbedding,
	}, nil
}

func (w *NatsWorker) replyFailure(msg *nats.Msg, failure *ConversionFailedEvent) {
	err := w.respond(msg, failure)
	if err != nil {
		w.log.Error("Failed to publish failure reply for workflow %s: %v", failure.Header.WorkflowID, err)
	}
}

func (w *NatsWorker) respond(msg *nats.Msg, reply any) error {
	if msg.Reply == "" {
		return ErrNoReplySubject
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

// stepError is a failure in the worker's own steps around the pipeline.
type stepError struct {
	stage   string
	message string
	err     error
}

func (e *stepError) Error() string {
	return fmt.Sprintf("%s: %v", e.stage, e.err)
}

func (e *stepError) Unwrap() error {
	return e.err
}

func failureFor(event *ConversionRequestedEvent, err error) *ConversionFailedEvent {
	failure := &ConversionFailedEvent{Header: event.Header, FailedStage: "", Error: msgInternal}

	var (
		stageErr *core.StageError
		stepErr  *stepError
	)

	switch {
	case errors.As(err, &stageErr):
		failure.FailedStage = stageErr.Stage.String()
		failure.Error = stageErr.UserMessage()
	case errors.As(err, &stepErr):
		failure.FailedStage = stepErr.stage
		failure.Error = stepErr.message
	}

	return failure
}
