package embedding

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/voiceclone-service/internal/core"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o750

	defaultFetchTimeout = 2 * time.Minute
)

// Fetcher downloads embedding files from a remote mirror, one file per name.
type Fetcher struct {
	baseURL    string
	httpClient *http.Client
}

// NewFetcher creates a fetcher for baseURL.
func NewFetcher(baseURL string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	return &Fetcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch downloads relPath into localPath. The file appears at localPath only after
// the whole body was received and decoded; every failure leaves localPath untouched.
func (f *Fetcher) Fetch(ctx context.Context, relPath, localPath string) error {
	url := f.baseURL + "/" + filepath.ToSlash(relPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("%w: build request for %s: %w", core.ErrFetch, relPath, err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request %s: %w", core.ErrFetch, relPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %s", core.ErrFetch, relPath, resp.Status)
	}

	err = os.MkdirAll(filepath.Dir(localPath), dirPermissions)
	if err != nil {
		return fmt.Errorf("%w: create cache directory: %w", core.ErrFetch, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".fetch-*"+FileExt)
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", core.ErrFetch, err)
	}

	tmpPath := tmp.Name()
	committed := false

	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, resp.Body)

	closeErr := tmp.Close()
	if err != nil {
		return fmt.Errorf("%w: read body of %s: %w", core.ErrFetch, relPath, err)
	}

	if closeErr != nil {
		return fmt.Errorf("%w: close temp file: %w", core.ErrFetch, closeErr)
	}

	if resp.ContentLength > 0 && written != resp.ContentLength {
		return fmt.Errorf("%w: %s truncated: got %d of %d bytes", core.ErrFetch, relPath, written, resp.ContentLength)
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: reread temp file: %w", core.ErrFetch, err)
	}

	_, err = Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrFetch, relPath, err)
	}

	err = os.Chmod(tmpPath, filePermissions)
	if err != nil {
		return fmt.Errorf("%w: chmod temp file: %w", core.ErrFetch, err)
	}

	err = os.Rename(tmpPath, localPath)
	if err != nil {
		return fmt.Errorf("%w: move %s into place: %w", core.ErrFetch, relPath, err)
	}

	committed = true

	return nil
}
