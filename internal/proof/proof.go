// Package proof downloads payment proof images into a scratch directory.
package proof

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/exchangebot/core/logger"
)

// ErrDownload marks failures to fetch or store a proof image.
var ErrDownload = errors.New("proof: download failed")

const defaultMaxBytes = 20 << 20

// Config controls where and how proofs are fetched.
type Config struct {
	Dir      string
	Timeout  time.Duration
	MaxBytes int64
}

// Acquirer resolves proof URLs to local files.
type Acquirer struct {
	client   *http.Client
	dir      string
	timeout  time.Duration
	maxBytes int64
}

// NewAcquirer prepares the scratch directory and returns an Acquirer using client.
func NewAcquirer(cfg Config, client *http.Client) (*Acquirer, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "exchangebot")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("proof: create scratch dir: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Acquirer{
		client:   client,
		dir:      dir,
		timeout:  cfg.Timeout,
		maxBytes: maxBytes,
	}, nil
}

// Dir returns the scratch directory.
func (a *Acquirer) Dir() string {
	return a.dir
}

// Acquire downloads rawURL into a uniquely named scratch file. The caller owns the returned
// File and must Release it.
func (a *Acquirer) Acquire(ctx context.Context, rawURL string) (*File, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrDownload, redact(err))
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownload, redact(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %s", ErrDownload, resp.Status)
	}

	path := filepath.Join(a.dir, uuid.NewString()+extension(rawURL))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: create file: %w", ErrDownload, err)
	}
	file := &File{path: path}

	n, copyErr := io.Copy(f, io.LimitReader(resp.Body, a.maxBytes+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		err = fmt.Errorf("%w: write: %w", ErrDownload, copyErr)
	case closeErr != nil:
		err = fmt.Errorf("%w: close: %w", ErrDownload, closeErr)
	case n > a.maxBytes:
		err = fmt.Errorf("%w: image exceeds %d bytes", ErrDownload, a.maxBytes)
	case n == 0:
		err = fmt.Errorf("%w: empty body", ErrDownload)
	}
	if err != nil {
		_ = file.Release()
		return nil, err
	}

	logger.Proof.LogAttrs(ctx, slog.LevelDebug, "",
		slog.String("event", "proof.acquired"),
		slog.String("path", path),
		slog.Int64("bytes", n),
		slog.Duration("duration", time.Since(start)),
	)
	return file, nil
}

// File is a downloaded proof on local disk.
type File struct {
	path string
	once sync.Once
	err  error
}

// Path returns the local file path.
func (f *File) Path() string {
	if f == nil {
		return ""
	}
	return f.path
}

// Release deletes the file. It is safe to call on a nil File and more than once.
func (f *File) Release() error {
	if f == nil {
		return nil
	}
	f.once.Do(func() {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			f.err = fmt.Errorf("proof: remove %s: %w", f.path, err)
			return
		}
		logger.Proof.LogAttrs(context.Background(), slog.LevelDebug, "",
			slog.String("event", "proof.released"),
			slog.String("path", f.path),
		)
	})
	return f.err
}

func extension(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	ext := strings.ToLower(filepath.Ext(rawURL))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif", ".bmp", ".tif", ".tiff":
		return ext
	}
	return ".img"
}

// redact drops the request URL from transport errors; Telegram file URLs embed the bot token.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
