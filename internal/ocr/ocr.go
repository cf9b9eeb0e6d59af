// Package ocr turns payment receipt images into bank reference numbers.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/m3rciful/exchangebot/core/logger"
)

var (
	// ErrNoReference means recognition succeeded but no reference label with digits was found.
	ErrNoReference = errors.New("ocr: no reference found")
	// ErrTechnical wraps recognition engine failures.
	ErrTechnical = errors.New("ocr: technical failure")
)

// User-facing texts attached to failed results.
const (
	MessageNoReference = "No se pudo encontrar un número de referencia en el comprobante."
	MessageTechnical   = "Hubo un error técnico al leer la imagen."
)

// referencePattern matches a "referencia" label (optionally "número de referencia") or an
// "operación" label and captures the 6 to 20 digits that follow.
var referencePattern = regexp.MustCompile(`(?i)(?:(?:n[uú]mero\sde\s)?referencia|operaci[oó]n):?\s*(\d{6,20})`)

// ExtractReference returns the first reference number found in text.
func ExtractReference(text string) (string, bool) {
	m := referencePattern.FindStringSubmatch(text)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// Recognizer converts an image file into text.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath, language string) (string, error)
}

// Result is the outcome of one extraction. Error is safe to show to users; Cause is for logs.
type Result struct {
	Success     bool
	ReferenceID string
	Error       string
	Cause       error
}

// Options tune the Service.
type Options struct {
	Language string
	Timeout  time.Duration
	// Observe receives the recognition duration of every call.
	Observe func(time.Duration)
}

// Service extracts references from receipt images. It holds no per-call state.
type Service struct {
	engine  Recognizer
	lang    string
	timeout time.Duration
	observe func(time.Duration)
}

// NewService builds a Service around the recognition engine.
func NewService(engine Recognizer, opts Options) *Service {
	lang := opts.Language
	if lang == "" {
		lang = "spa"
	}
	return &Service{
		engine:  engine,
		lang:    lang,
		timeout: opts.Timeout,
		observe: opts.Observe,
	}
}

// Extract recognizes the image at imagePath and looks for a reference number.
func (s *Service) Extract(ctx context.Context, imagePath string) (res Result) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = technical(fmt.Errorf("%w: engine panic: %v", ErrTechnical, r))
		}
		took := time.Since(start)
		if s.observe != nil {
			s.observe(took)
		}
		logResult(ctx, imagePath, res, took)
	}()

	if s.engine == nil {
		return technical(fmt.Errorf("%w: no recognition engine", ErrTechnical))
	}
	text, err := s.engine.Recognize(ctx, imagePath, s.lang)
	if err != nil {
		return technical(fmt.Errorf("%w: %w", ErrTechnical, err))
	}
	if logger.ShouldSampleDebug("ocr.text") {
		logger.OCR.LogAttrs(ctx, slog.LevelDebug, "",
			slog.String("event", "ocr.text"),
			slog.String("payload", logger.SanitizeLimit(text, 512)),
		)
	}

	ref, ok := ExtractReference(text)
	if !ok {
		return Result{Error: MessageNoReference, Cause: ErrNoReference}
	}
	return Result{Success: true, ReferenceID: ref}
}

func technical(cause error) Result {
	return Result{Error: MessageTechnical, Cause: cause}
}

func logResult(ctx context.Context, path string, res Result, took time.Duration) {
	attrs := []slog.Attr{
		slog.String("event", "ocr.extract"),
		slog.String("path", path),
		slog.Duration("duration", took),
	}
	level := slog.LevelInfo
	switch {
	case res.Success:
		attrs = append(attrs, slog.String("status", "ok"), slog.String("reference", res.ReferenceID))
	case errors.Is(res.Cause, ErrNoReference):
		attrs = append(attrs, slog.String("status", "fail"), slog.String("outcome", "no_reference"))
	default:
		level = slog.LevelError
		attrs = append(attrs, slog.String("status", "fail"), slog.String("outcome", "technical"))
		if res.Cause != nil {
			attrs = append(attrs, slog.String("err", logger.SanitizeLimit(res.Cause.Error(), 256)))
		}
	}
	logger.OCR.LogAttrs(ctx, level, "", attrs...)
}
