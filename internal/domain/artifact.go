package domain

import (
	"os"
	"time"
)

// MinArtifactSize is the sanity floor for any produced file: anything at or
// below it is treated as corrupt.
const MinArtifactSize = 1000

type ArtifactScope string

const (
	ScopeItem      ArtifactScope = "item"
	ScopeAggregate ArtifactScope = "aggregate"
)

// Artifact is a produced file and the signature it was produced from.
type Artifact struct {
	Key       string
	Scope     ArtifactScope
	Path      string
	Signature string
	Duration  float64
	HasAudio  bool
	Size      int64
	CreatedAt time.Time
}

// ValidFile reports whether path exists and is larger than MinArtifactSize.
func ValidFile(path string) (int64, bool) {
	if path == "" {
		return 0, false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0, false
	}
	return info.Size(), info.Size() > MinArtifactSize
}

type ResultKind int

const (
	ResultArtifact ResultKind = iota
	ResultAborted
	ResultError
)

// TranscodeResult is the tagged outcome of one item transcode.
type TranscodeResult struct {
	Kind     ResultKind
	Artifact Artifact
	CacheHit bool
	Message  string
}

func ArtifactResult(a Artifact, hit bool) TranscodeResult {
	return TranscodeResult{Kind: ResultArtifact, Artifact: a, CacheHit: hit}
}

func AbortedResult() TranscodeResult {
	return TranscodeResult{Kind: ResultAborted, Message: ErrAborted.Error()}
}

func ErrorResult(msg string) TranscodeResult {
	return TranscodeResult{Kind: ResultError, Message: msg}
}

type OutcomeKind string

const (
	OutcomeDone    OutcomeKind = "done"
	OutcomeAborted OutcomeKind = "aborted"
	OutcomeFailed  OutcomeKind = "failed"
)

// Outcome is the single terminal result a caller receives for a job.
type Outcome struct {
	Kind     OutcomeKind
	Path     string
	Duration float64
	Message  string
}

func DoneOutcome(path string, duration float64) Outcome {
	return Outcome{Kind: OutcomeDone, Path: path, Duration: duration}
}

func AbortedOutcome() Outcome {
	return Outcome{Kind: OutcomeAborted, Message: ErrAborted.Error()}
}

func FailedOutcome(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Message: err.Error()}
}

func (o Outcome) JobStatus() JobStatus {
	switch o.Kind {
	case OutcomeDone:
		return JobStatusDone
	case OutcomeAborted:
		return JobStatusAborted
	default:
		return JobStatusFailed
	}
}
