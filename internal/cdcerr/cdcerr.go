// Package cdcerr classifies pipeline errors so callers can decide whether to
// retry, escalate, or record a permanent failure without parsing strings.
package cdcerr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindConfig    Kind = "config"
	KindCapture   Kind = "capture"
	KindRead      Kind = "read"
	KindTransform Kind = "transform"
	KindWrite     Kind = "write"
	KindConnect   Kind = "connect"
)

// Error wraps an underlying error with a Kind and the component that
// produced it, so IsRetryable and logging can branch on a stable field
// instead of matching on message text.
type Error struct {
	Kind    Kind
	Op      string
	Table   string
	Err     error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("%s: %s[%s]: %v", e.Kind, e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op, table string, err error) *Error {
	return &Error{Kind: kind, Op: op, Table: table, Err: err, Retryable: classify(err)}
}

func Config(op string, err error) error    { return New(KindConfig, op, "", err) }
func Capture(op, table string, err error) error { return New(KindCapture, op, table, err) }
func Read(op string, err error) error       { return New(KindRead, op, "", err) }
func Transform(op, table string, err error) error { return New(KindTransform, op, table, err) }
func Write(op, table string, err error) error { return New(KindWrite, op, table, err) }
func Connect(op string, err error) error    { return New(KindConnect, op, "", err) }

// retryableSubstrings mirrors the transient-failure vocabulary used to
// decide whether a target write should be retried rather than dead-lettered.
var retryableSubstrings = []string{
	"connection",
	"timeout",
	"closed",
	"reset",
	"refused",
	"network",
	"temporary",
	"deadlock",
}

func classify(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether err (or a *Error it wraps) represents a
// transient condition worth retrying.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return classify(err)
}
