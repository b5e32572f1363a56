// Package objectstore keeps reference and converted audio in a NATS JetStream object store bucket.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

const contentTypeWAV = "audio/wav"

// ErrNotFound is returned when a key does not exist in the bucket.
var ErrNotFound = errors.New("object not found")

// AudioStore implements core.ObjectStore on a JetStream object store bucket.
type AudioStore struct {
	bucket string
	store  jetstream.ObjectStore
}

// New binds to bucketName, creating it when it does not exist yet.
func New(ctx context.Context, js jetstream.JetStream, bucketName string) (*AudioStore, error) {
	store, err := js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Voice conversion audio for the %s bucket.", bucketName),
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if errors.Is(err, jetstream.ErrBucketExists) {
		store, err = js.ObjectStore(ctx, bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
	}

	return &AudioStore{bucket: bucketName, store: store}, nil
}

// Download retrieves an object.
func (s *AudioStore) Download(ctx context.Context, key string) ([]byte, error) {
	data, err := s.store.GetBytes(ctx, key)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: '%s' in bucket '%s'", ErrNotFound, key, s.bucket)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	return data, nil
}

// Upload stores data under key as WAV audio.
func (s *AudioStore) Upload(ctx context.Context, key string, data []byte) error {
	_, err := s.store.Put(ctx, jetstream.ObjectMeta{
		Name:     key,
		Metadata: map[string]string{"content-type": contentTypeWAV},
	}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *AudioStore) Delete(ctx context.Context, key string) error {
	err := s.store.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}
