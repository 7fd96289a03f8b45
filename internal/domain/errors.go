package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("resource not found")
	ErrBusy            = errors.New("processing: a job is already running")
	ErrAborted         = errors.New("aborted")
	ErrNoItems         = errors.New("no items to render")
	ErrWrongKind       = errors.New("operation does not apply to this item kind")
	ErrInvalidTrim     = errors.New("invalid trim")
	ErrInvalidRotation = errors.New("rotation must be a multiple of 90 degrees")
	ErrInvalidSpeed    = errors.New("speed factor must be positive")
	ErrInvalidEffect   = errors.New("invalid effect")
	ErrInvalidVolume   = errors.New("volume must be within [0, 1]")
	ErrInvalidOutput   = errors.New("invalid output path")
)

// ProbeError means metadata extraction failed; the item is rejected.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// EncodeError is a failed or invalid per-item transcode.
type EncodeError struct {
	ItemID  string
	Message string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode item %s: %s", e.ItemID, e.Message)
}

// TimeoutError means a stage ran past its wall-clock budget.
type TimeoutError struct {
	Stage  string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s exceeded %s", e.Stage, e.Budget)
}

// CompositionError means every concatenation tier failed.
type CompositionError struct {
	Attempts []error
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("composition failed: %v", errors.Join(e.Attempts...))
}

func (e *CompositionError) Unwrap() []error { return e.Attempts }

// MixError means music mixing failed. It is recoverable: the job falls back
// to the composite without music.
type MixError struct {
	Err error
}

func (e *MixError) Error() string {
	return fmt.Sprintf("music mix: %v", e.Err)
}

func (e *MixError) Unwrap() error { return e.Err }
