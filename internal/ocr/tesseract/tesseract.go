// Package tesseract adapts the Tesseract OCR engine to ocr.Recognizer.
package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Engine runs one Tesseract client per call and always closes it before returning.
type Engine struct {
	run func(imagePath, language string) (string, error)
}

// New returns a Tesseract-backed recognizer.
func New() Engine {
	return Engine{run: recognize}
}

// Recognize returns the text found in the image. A Tesseract pass cannot be interrupted, so
// the call always waits for it to finish and for its client to close. When ctx ended in the
// meantime the text is discarded and ctx.Err() is returned.
func (e Engine) Recognize(ctx context.Context, imagePath, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	run := e.run
	if run == nil {
		run = recognize
	}
	text, err := run(imagePath, language)
	if cerr := ctx.Err(); cerr != nil {
		return "", fmt.Errorf("tesseract: %w", cerr)
	}
	return text, err
}

func recognize(imagePath, language string) (text string, err error) {
	client := gosseract.NewClient()
	defer func() {
		if cerr := client.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("tesseract close: %w", cerr)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tesseract panic: %v", r)
		}
	}()

	if err := client.SetLanguage(language); err != nil {
		return "", fmt.Errorf("tesseract language %q: %w", language, err)
	}
	if err := client.SetImage(imagePath); err != nil {
		return "", fmt.Errorf("tesseract image: %w", err)
	}
	text, err = client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract recognize: %w", err)
	}
	return text, nil
}
