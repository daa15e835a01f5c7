// Package provider abstracts the AI completion services the solve stages
// call. A provider takes an ordered message list (system instruction plus
// user text/image parts) and returns free-form text.
package provider

import (
	"context"
	"errors"
	"fmt"
)

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Part is one element of a message: either text or an inline image.
type Part struct {
	Text  string
	Image []byte
	MIME  string
}

func TextPart(s string) Part { return Part{Text: s} }

func ImagePart(b []byte, mime string) Part { return Part{Image: b, MIME: mime} }

type Message struct {
	Role  string
	Parts []Part
}

type Request struct {
	Model    string
	Messages []Message
}

// Provider is a chat-style completion engine.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// CallError marks a hard provider failure (timeout, rate limit, auth, 5xx).
// The orchestrator refunds an already-deducted charge when it sees one.
type CallError struct {
	Provider string
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s call failed: %v", e.Provider, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// IsCallError reports whether err is (or wraps) a provider call failure.
func IsCallError(err error) bool {
	var ce *CallError
	return errors.As(err, &ce)
}
