// Package errdefs defines the error values shared by the serving core and
// groups them into the kinds callers act on.
package errdefs

import "errors"

// Kind classifies an error by how the caller is expected to react.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration covers bad paths, shapes, precisions and request
	// layouts. The caller must fix its input.
	KindConfiguration
	// KindConcurrency covers session bookkeeping failures and backpressure.
	KindConcurrency
	// KindResource covers device compile failures and exhausted resources.
	KindResource
	// KindUnavailable means the model is not serving right now.
	KindUnavailable
	// KindNotFound means the named model or version does not exist.
	KindNotFound
	// KindInternal signals a metadata or engine contract violation.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindConcurrency:
		return "concurrency"
	case KindResource:
		return "resource"
	case KindUnavailable:
		return "unavailable"
	case KindNotFound:
		return "not_found"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Configuration errors.
var (
	ErrPathInvalid           = errors.New("model path invalid")
	ErrInvalidConfig         = errors.New("invalid model configuration")
	ErrInvalidPrecision      = errors.New("invalid input precision")
	ErrInvalidShape          = errors.New("invalid input shape")
	ErrInvalidBatchSize      = errors.New("invalid batch size")
	ErrInvalidNoOfInputs     = errors.New("invalid number of inputs")
	ErrMissingInput          = errors.New("missing input")
	ErrUnexpectedInput       = errors.New("unexpected input")
	ErrInvalidContentSize    = errors.New("invalid content size")
	ErrIncompatiblePrecision = errors.New("incompatible precision")
	ErrImageParsing          = errors.New("image parsing failed")
)

// Concurrency errors.
var (
	ErrMaxSessionsReached     = errors.New("max sequence number reached")
	ErrSequenceAlreadyExists  = errors.New("sequence already exists")
	ErrSequenceTerminated     = errors.New("sequence terminated")
	ErrSequenceMissing        = errors.New("sequence missing")
	ErrSequenceIDNotProvided  = errors.New("sequence id not provided")
	ErrInvalidSequenceControl = errors.New("invalid sequence control input")
	ErrTooBusy                = errors.New("too busy")
)

// Resource errors.
var (
	ErrCompileFailed     = errors.New("model compile failed")
	ErrResourceExhausted = errors.New("resource exhausted")
)

// Availability errors.
var (
	ErrModelNotLoadedYet     = errors.New("model not loaded yet")
	ErrModelNotLoadedAnymore = errors.New("model not loaded anymore")
	ErrCanceled              = errors.New("canceled")
	ErrNotFound              = errors.New("not found")
)

// Internal errors.
var (
	ErrInternal  = errors.New("internal error")
	ErrInference = errors.New("inference failed")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrPathInvalid, KindConfiguration},
	{ErrInvalidConfig, KindConfiguration},
	{ErrInvalidPrecision, KindConfiguration},
	{ErrInvalidShape, KindConfiguration},
	{ErrInvalidBatchSize, KindConfiguration},
	{ErrInvalidNoOfInputs, KindConfiguration},
	{ErrMissingInput, KindConfiguration},
	{ErrUnexpectedInput, KindConfiguration},
	{ErrInvalidContentSize, KindConfiguration},
	{ErrImageParsing, KindConfiguration},
	{ErrIncompatiblePrecision, KindResource},
	{ErrMaxSessionsReached, KindConcurrency},
	{ErrSequenceAlreadyExists, KindConcurrency},
	{ErrSequenceTerminated, KindConcurrency},
	{ErrSequenceMissing, KindConcurrency},
	{ErrSequenceIDNotProvided, KindConcurrency},
	{ErrInvalidSequenceControl, KindConcurrency},
	{ErrTooBusy, KindConcurrency},
	{ErrCompileFailed, KindResource},
	{ErrResourceExhausted, KindResource},
	{ErrModelNotLoadedYet, KindUnavailable},
	{ErrModelNotLoadedAnymore, KindUnavailable},
	{ErrCanceled, KindUnavailable},
	{ErrNotFound, KindNotFound},
	{ErrInternal, KindInternal},
	{ErrInference, KindInternal},
}

// KindOf returns the kind of the first known error found in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}
