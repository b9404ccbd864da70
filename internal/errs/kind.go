// Package errs implements the error-kind taxonomy from spec §7 as a Go
// type instead of exception-driven control flow: every error that can
// cross a stage boundary is classified once, at the point it's produced,
// and the retry harness (internal/retry) dispatches on that classification.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the six error categories named in spec §7.
type Kind int

const (
	// KindTransient covers network/5xx/429/timeout/connection-reset errors.
	// Policy: retry with exponential backoff + jitter, bounded by a
	// call-site-specific max attempt count.
	KindTransient Kind = iota
	// KindBudget covers quota-exceeded conditions. Policy: refuse, emit an
	// alert if a threshold was crossed, never mark the post failed.
	KindBudget
	// KindValidation covers schema failures, invalid tag counts, oversized
	// or non-image media. Policy varies by call site (see spec §7).
	KindValidation
	// KindPolicy covers NSFW, below-threshold, and non-API-host drops.
	// Policy: drop silently at the filter.
	KindPolicy
	// KindTerminal covers platform 4xx responses other than 401/429.
	// Policy: mark the stage failed, emit audit, roll back side effects.
	KindTerminal
	// KindIntegrity covers unique-constraint violations on source_post_id.
	// Policy: treat as success — the post is already known.
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindBudget:
		return "budget"
	case KindValidation:
		return "validation"
	case KindPolicy:
		return "policy"
	case KindTerminal:
		return "terminal"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// Classified wraps an error with its taxonomy Kind so it can cross a
// function boundary and still be dispatched on with errors.As, without
// resorting to sentinel errors per call site.
type Classified struct {
	Kind Kind
	Err  error
}

func (c *Classified) Error() string {
	return fmt.Sprintf("%s: %v", c.Kind, c.Err)
}

func (c *Classified) Unwrap() error {
	return c.Err
}

// New classifies err under kind. A nil err yields an untyped nil error
// (not a nil *Classified), matching the usual Go convention for wrap
// helpers.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Kind: kind, Err: err}
}

// Newf classifies a freshly formatted error under kind.
func Newf(kind Kind, format string, args ...any) error {
	return &Classified{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Classified. The second return value is false for unclassified errors,
// which callers should generally treat as KindTransient-or-terminal
// depending on context rather than silently swallowing.
func KindOf(err error) (Kind, bool) {
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind, true
	}
	return 0, false
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
