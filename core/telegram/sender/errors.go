package sender

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Failure kinds reported by Classify.
const (
	KindTimeout   = "timeout"
	KindNetwork   = "network"
	KindTLS       = "tls"
	KindFlood     = "flood"
	KindBlocked   = "blocked"
	KindClient    = "http_4xx"
	KindServer    = "http_5xx"
	KindCancelled = "cancelled"
	KindUnknown   = "unknown"
)

var tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)

// Redact renders err with any Telegram bot token masked.
func Redact(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}

// RedactedError hides the bot token in the message of the wrapped error while keeping it
// reachable through errors.Is and errors.As.
type RedactedError struct {
	err error
}

// RedactError wraps err so that printing it never leaks the bot token. nil stays nil.
func RedactError(err error) error {
	if err == nil {
		return nil
	}
	if r, ok := err.(*RedactedError); ok {
		return r
	}
	return &RedactedError{err: err}
}

func (e *RedactedError) Error() string { return Redact(e.err) }

func (e *RedactedError) Unwrap() error { return e.err }

// Classify buckets an outbound failure for logs and metrics.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if _, ok := floodWait(err); ok {
		return KindFlood
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) {
		return KindNetwork
	}
	var alertErr tls.AlertError
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &alertErr) || errors.As(err, &certErr) {
		return KindTLS
	}

	switch status := statusCode(err); {
	case status == http.StatusForbidden:
		return KindBlocked
	case status >= 500:
		return KindServer
	case status >= 400:
		return KindClient
	}
	return KindUnknown
}

// statusCode extracts the Bot API status from typed telebot errors, falling back to the
// "(code)" suffix telebot appends to plain API errors.
func statusCode(err error) int {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var groupErr tele.GroupError
	if errors.As(err, &groupErr) {
		return http.StatusBadRequest
	}

	msg := strings.TrimSpace(err.Error())
	if !strings.HasSuffix(msg, ")") {
		return 0
	}
	open := strings.LastIndex(msg, "(")
	if open < 0 {
		return 0
	}
	code, convErr := strconv.Atoi(msg[open+1 : len(msg)-1])
	if convErr != nil {
		return 0
	}
	return code
}
