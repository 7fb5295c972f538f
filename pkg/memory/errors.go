package memory

import "fmt"

// StoreErrorKind classifies a failure from the persistent store.
type StoreErrorKind string

const (
	StoreErrorIO         StoreErrorKind = "io"
	StoreErrorConflict   StoreErrorKind = "conflict"
	StoreErrorCorruption StoreErrorKind = "corruption"
)

// StoreError wraps a failure from the persistent store. Write
// operations that return a StoreError must leave the store in its
// pre-call state.
type StoreError struct {
	Kind StoreErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error (%s) during %s: %v", e.Kind, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func NewStoreError(kind StoreErrorKind, op string, err error) *StoreError {
	return &StoreError{Kind: kind, Op: op, Err: err}
}

// ExtractErrorKind classifies a per-window failure from the Extractor LLM.
type ExtractErrorKind string

const (
	ExtractErrorBadResponse ExtractErrorKind = "bad_response"
	ExtractErrorTimeout     ExtractErrorKind = "timeout"
	ExtractErrorCancelled   ExtractErrorKind = "cancelled"
)

// ExtractError is recoverable: the offending window contributes zero
// facts but sibling windows continue processing.
type ExtractError struct {
	Kind     ExtractErrorKind
	WindowID string
	Err      error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract error (%s) for window %s: %v", e.Kind, e.WindowID, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// ConsolidateErrorKind classifies a per-cluster failure from the
// Consolidation LLM.
type ConsolidateErrorKind string

const (
	ConsolidateErrorBadResponse ConsolidateErrorKind = "bad_response"
	ConsolidateErrorTimeout     ConsolidateErrorKind = "timeout"
	ConsolidateErrorCancelled   ConsolidateErrorKind = "cancelled"
)

// ConsolidateError is recoverable: the offending cluster is skipped,
// sibling clusters continue.
type ConsolidateError struct {
	Kind      ConsolidateErrorKind
	ClusterID string
	Err       error
}

func (e *ConsolidateError) Error() string {
	return fmt.Sprintf("consolidate error (%s) for cluster %s: %v", e.Kind, e.ClusterID, e.Err)
}

func (e *ConsolidateError) Unwrap() error { return e.Err }

// ConfigInvalidError reports a configuration that failed validation at
// construction time.
type ConfigInvalidError struct {
	Field  string
	Reason string
}

func (e *ConfigInvalidError) Error() string {
	return fmt.Sprintf("invalid config field %q: %s", e.Field, e.Reason)
}

// QueryInvalidError reports an empty or oversized search query.
type QueryInvalidError struct {
	Reason string
}

func (e *QueryInvalidError) Error() string {
	return fmt.Sprintf("invalid query: %s", e.Reason)
}

// ErrCancelled is returned by operations aborted via their context.
type ErrCancelled struct {
	Op string
}

func (e *ErrCancelled) Error() string {
	return fmt.Sprintf("%s: cancelled", e.Op)
}
