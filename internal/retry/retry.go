package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
	ClassRateLimit Class = "rate_limit"
)

type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient || d.Class == ClassRateLimit
}

func (d Decision) IsRateLimit() bool {
	return d.Class == ClassRateLimit
}

type classifiedError struct {
	err    error
	class  Class
	reason string
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

// Transient marks err so Classify reports it as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTransient, reason: "explicit_transient"}
}

// Terminal marks err so Classify reports it as non-retryable.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTerminal, reason: "explicit_terminal"}
}

// statusCoder is implemented by upstream API errors carrying an HTTP status.
type statusCoder interface {
	StatusCode() int
}

// Classify decides whether an upstream failure is worth retrying.
// Rate-limit signals get their own class: they are the only failures the
// access layer retries with backoff; other transient failures are surfaced
// immediately so callers can move on to an alternative tick or page.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}

	var marked *classifiedError
	if errors.As(err, &marked) {
		return Decision{Class: marked.class, Reason: marked.reason}
	}

	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Decision{Class: ClassTransient, Reason: "context_deadline_exceeded"}
	}

	var coded statusCoder
	if errors.As(err, &coded) {
		return classifyHTTPStatus(coded.StatusCode())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Decision{Class: ClassTransient, Reason: "net_timeout"}
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, rateLimitMessageTokens) {
		return Decision{Class: ClassRateLimit, Reason: "message_rate_limit"}
	}
	if containsAny(lower, transientMessageTokens) {
		return Decision{Class: ClassTransient, Reason: "message_transient"}
	}

	return Decision{Class: ClassTerminal, Reason: "unknown_terminal_default"}
}

func classifyHTTPStatus(code int) Decision {
	switch {
	case code == http.StatusTooManyRequests:
		return Decision{Class: ClassRateLimit, Reason: "http_429"}
	case code == http.StatusNotFound:
		return Decision{Class: ClassTerminal, Reason: "http_404"}
	case code >= 500:
		return Decision{Class: ClassTransient, Reason: "http_5xx"}
	default:
		return Decision{Class: ClassTerminal, Reason: "http_4xx"}
	}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var rateLimitMessageTokens = []string{
	"too many requests",
	"rate limit",
	"http status 429",
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"econnreset",
	"econnrefused",
	"http status 502",
	"http status 503",
	"http status 504",
	"server closed idle connection",
}
