package flow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTemplateInvalid is returned when a template fails validation.
	ErrTemplateInvalid = errors.New("template invalid")
	// ErrInterruptRequired signals that a tool node's precondition is unmet.
	// It never leaves the engine: callers observe StatusInterrupted instead.
	ErrInterruptRequired = errors.New("interrupt required")
	// ErrUnroutableResponse is returned when the classifier output matches no
	// branch and the node declares no default edge.
	ErrUnroutableResponse = errors.New("unroutable response")
	ErrProviderTimeout    = errors.New("provider timeout")
	ErrProviderError      = errors.New("provider error")
	ErrVersionConflict    = errors.New("version conflict")
	ErrNotInterrupted     = errors.New("conversation is not interrupted")
	ErrInterrupted        = errors.New("conversation is awaiting approval")
	ErrCancelled          = errors.New("conversation is cancelled")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrThreadBusy         = errors.New("thread has a step in flight")
	ErrToolFailed         = errors.New("tool failed")
)

// TemplateError lists every problem found while validating a template.
type TemplateError struct {
	Template string
	Problems []string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %q invalid: %s", e.Template, strings.Join(e.Problems, "; "))
}

func (e *TemplateError) Unwrap() error { return ErrTemplateInvalid }
