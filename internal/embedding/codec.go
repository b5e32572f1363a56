package embedding

import (
	"errors"
	"fmt"

	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/vmihailenco/msgpack/v5"
)

// FileExt is the extension of embedding files on disk and on the remote mirror.
const FileExt = ".se"

var errCorruptEmbedding = errors.New("corrupt embedding file")

// fileRecord is the msgpack layout of an embedding file.
type fileRecord struct {
	Name   string    `msgpack:"name"`
	Dim    int       `msgpack:"dim"`
	Values []float32 `msgpack:"values"`
}

// Encode serializes an embedding for storage.
func Encode(embedding core.Embedding) ([]byte, error) {
	data, err := msgpack.Marshal(fileRecord{
		Name:   embedding.Name(),
		Dim:    embedding.Dim(),
		Values: embedding.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding '%s': %w", embedding.Name(), err)
	}

	return data, nil
}

// Decode parses an embedding file and checks its declared dimension.
func Decode(data []byte) (core.Embedding, error) {
	var record fileRecord

	err := msgpack.Unmarshal(data, &record)
	if err != nil {
		return core.Embedding{}, fmt.Errorf("%w: %w", errCorruptEmbedding, err)
	}

	if record.Dim == 0 || record.Dim != len(record.Values) {
		return core.Embedding{}, fmt.Errorf("%w: declared dim %d, got %d values",
			errCorruptEmbedding, record.Dim, len(record.Values))
	}

	return core.NewEmbedding(record.Name, record.Values), nil
}
