package churn

import (
	"errors"

	"github.com/KaramelBytes/churnlens/internal/explain"
	"github.com/KaramelBytes/churnlens/internal/model"
	"github.com/KaramelBytes/churnlens/internal/preprocess"
	"github.com/KaramelBytes/churnlens/internal/query"
	"github.com/KaramelBytes/churnlens/internal/session"
	"github.com/KaramelBytes/churnlens/internal/table"
)

// ErrInvalidInput marks malformed uploads and request bodies.
var ErrInvalidInput = errors.New("invalid input")

// Kind groups errors by who has to act on them.
type Kind int

const (
	KindInternal Kind = iota
	// KindInput is a problem with what the caller sent.
	KindInput
	// KindResource is a missing or unusable model, or data that leaves
	// nothing to score.
	KindResource
	// KindSession means no usable session for the operation.
	KindSession
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input_error"
	case KindResource:
		return "resource_error"
	case KindSession:
		return "session_error"
	}
	return "internal_error"
}

// Classify maps err to its Kind. nil is KindInternal.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, table.ErrUnsupportedFormat),
		errors.Is(err, table.ErrEmptyTable),
		errors.Is(err, session.ErrIndexOutOfRange),
		errors.Is(err, query.ErrEmptyQuestion):
		return KindInput
	case errors.Is(err, model.ErrModelUnavailable),
		errors.Is(err, model.ErrModelIncompatible),
		errors.Is(err, preprocess.ErrNoUsableColumns),
		errors.Is(err, explain.ErrDegenerate):
		return KindResource
	case errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrStaleSession):
		return KindSession
	}
	return KindInternal
}
