// Package scratch allocates per-request intermediate files and guarantees their removal.
package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

const dirPermissions = 0o750

// ErrScopeClosed is returned when allocating from a released scope.
var ErrScopeClosed = errors.New("scratch scope already closed")

// Kind names the role an artifact plays in a request.
type Kind string

// Artifact kinds produced by a conversion request.
const (
	KindReference Kind = "reference"
	KindSegments  Kind = "segments"
	KindBase      Kind = "base"
	KindOutput    Kind = "output"
)

func (k Kind) isDir() bool {
	return k == KindSegments
}

func (k Kind) ext() string {
	if k.isDir() {
		return ""
	}

	return ".wav"
}

// Artifact is a filesystem-backed intermediate tagged with its request.
type Artifact struct {
	Kind      Kind
	RequestID string
	Path      string
}

// Manager owns the scratch root.
type Manager struct {
	root string
	log  *logger.Logger
}

// New creates the scratch root if absent.
func New(root string, log *logger.Logger) (*Manager, error) {
	if root == "" {
		return nil, errors.New("scratch root cannot be empty")
	}

	err := os.MkdirAll(root, dirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch root '%s': %w", root, err)
	}

	return &Manager{root: root, log: log}, nil
}

// Root returns the scratch root directory.
func (m *Manager) Root() string {
	return m.root
}

// Release deletes the artifact's storage. Missing storage is not an error.
func (m *Manager) Release(artifact Artifact) error {
	if artifact.Path == "" {
		return nil
	}

	err := os.RemoveAll(artifact.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to release %s artifact for request %s: %w", artifact.Kind, artifact.RequestID, err)
	}

	return nil
}

// Active lists request directories still present under the root.
func (m *Manager) Active() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list scratch root '%s': %w", m.root, err)
	}

	var active []string

	for _, entry := range entries {
		if entry.IsDir() {
			active = append(active, entry.Name())
		}
	}

	return active, nil
}

// Scope tracks every artifact allocated for one request.
type Scope struct {
	manager   *Manager
	requestID string
	dir       string

	mu        sync.Mutex
	artifacts []Artifact
	closed    bool
}

// NewScope opens a scope for requestID. Each scope gets its own directory, so
// callers reusing an ID never share or collide on storage.
func (m *Manager) NewScope(requestID string) (*Scope, error) {
	if requestID == "" {
		return nil, errors.New("request id cannot be empty")
	}

	dir := filepath.Join(m.root, requestID+"-"+uuid.NewString())

	err := os.Mkdir(dir, dirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory for request %s: %w", requestID, err)
	}

	return &Scope{manager: m, requestID: requestID, dir: dir}, nil
}

// Allocate reserves a unique path for kind. Directory kinds are created immediately.
func (s *Scope) Allocate(kind Kind) (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Artifact{}, ErrScopeClosed
	}

	artifact := Artifact{
		Kind:      kind,
		RequestID: s.requestID,
		Path:      filepath.Join(s.dir, fmt.Sprintf("%s-%s%s", kind, uuid.NewString(), kind.ext())),
	}

	if kind.isDir() {
		err := os.Mkdir(artifact.Path, dirPermissions)
		if err != nil {
			return Artifact{}, fmt.Errorf("failed to create %s workspace: %w", kind, err)
		}
	}

	s.artifacts = append(s.artifacts, artifact)

	return artifact, nil
}

// Release removes one artifact ahead of Close.
func (s *Scope) Release(artifact Artifact) error {
	s.mu.Lock()
	s.artifacts = slices.DeleteFunc(s.artifacts, func(a Artifact) bool { return a.Path == artifact.Path })
	s.mu.Unlock()

	return s.manager.Release(artifact)
}

// Close releases every artifact and the request directory. Calling it again is a no-op.
func (s *Scope) Close() error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return nil
	}

	s.closed = true
	artifacts := s.artifacts
	s.artifacts = nil
	s.mu.Unlock()

	var errs []error

	for _, artifact := range artifacts {
		err := s.manager.Release(artifact)
		if err != nil {
			errs = append(errs, err)
		}
	}

	err := s.manager.Release(Artifact{Kind: "request", RequestID: s.requestID, Path: s.dir})
	if err != nil {
		errs = append(errs, err)
	}

	joined := errors.Join(errs...)
	if joined != nil && s.manager.log != nil {
		s.manager.log.Warn("Failed to release scratch for request %s: %v", s.requestID, joined)
	}

	return joined
}
