package agents

import (
	"errors"
	"fmt"
)

// Kind classifies failures crossing component boundaries.
type Kind string

const (
	KindGenerationFailed  Kind = "generation_failed"
	KindSubResearchFailed Kind = "sub_research_failed"
	KindSynthesisFailed   Kind = "synthesis_failed"
	KindInvalidInput      Kind = "invalid_input"
	KindStageConflict     Kind = "stage_conflict"
	KindStageFailed       Kind = "stage_failed"
)

// Error is the error type returned by agents, the orchestrator and the
// pipelines. SubQuestion is set for KindSubResearchFailed.
type Error struct {
	Kind        Kind
	Message     string
	SubQuestion string
	Cause       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.SubQuestion != "" {
		msg = fmt.Sprintf("%s (sub-question %q)", msg, e.SubQuestion)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func GenerationFailed(cause error) error {
	return &Error{Kind: KindGenerationFailed, Message: "failed to generate sub-questions", Cause: cause}
}

func SubResearchFailed(subQuestion string, cause error) error {
	return &Error{Kind: KindSubResearchFailed, Message: "research failed", SubQuestion: subQuestion, Cause: cause}
}

func SynthesisFailed(cause error) error {
	return &Error{Kind: KindSynthesisFailed, Message: "failed to write report", Cause: cause}
}

func InvalidInput(msg string) error {
	return &Error{Kind: KindInvalidInput, Message: msg}
}

func StageConflict(msg string) error {
	return &Error{Kind: KindStageConflict, Message: msg}
}

// StageFailed reports a pipeline stage whose model, search or transcript call
// failed.
func StageFailed(stage string, cause error) error {
	return &Error{Kind: KindStageFailed, Message: stage + " stage failed", Cause: cause}
}

// IsKind reports whether any error in err's chain is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
