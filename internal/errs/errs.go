// Package errs defines the error taxonomy shared by the reconciliation engine.
//
// Fatal errors abort the current file's pipeline and carry enough context for
// manual resolution. Unresolved references are not fatal: most APIs return an
// empty result for them, and the few that return an error wrap ErrUnresolved.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a stable identifier for a failure mode.
type Code string

const (
	AmbiguousMapping    Code = "AMBIGUOUS_MAPPING"
	MalformedDiff       Code = "MALFORMED_DIFF"
	UnresolvedReference Code = "UNRESOLVED_REFERENCE"
)

// ErrUnresolved marks a lookup that found nothing. Callers treat it as
// "no information", never as a failure of the run.
var ErrUnresolved = errors.New("unresolved reference")

// AmbiguousMappingError reports more than one surviving candidate after all
// disambiguation rules ran.
type AmbiguousMappingError struct {
	// Subject is the qualified name or test id being resolved.
	Subject string
	// File is the file the lookup was scoped to, if any.
	File string
	// Candidates describes each remaining candidate, e.g. "foo@12".
	Candidates []string
}

func (e *AmbiguousMappingError) Error() string {
	var b strings.Builder
	b.WriteString("ambiguous mapping for ")
	b.WriteString(e.Subject)
	if e.File != "" {
		b.WriteString(" in ")
		b.WriteString(e.File)
	}
	fmt.Fprintf(&b, ": %d candidates [%s]", len(e.Candidates), strings.Join(e.Candidates, ", "))
	return b.String()
}

// MalformedDiffError reports a diff that violates the single-file,
// disjoint-and-sorted hunk contract.
type MalformedDiffError struct {
	Path   string
	Reason string
}

func (e *MalformedDiffError) Error() string {
	if e.Path == "" {
		return "malformed diff: " + e.Reason
	}
	return fmt.Sprintf("malformed diff for %s: %s", e.Path, e.Reason)
}

// Malformed is shorthand for constructing a *MalformedDiffError.
func Malformed(path, format string, args ...any) error {
	return &MalformedDiffError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first taxonomy error in err's chain, or ""
// when err is nil or outside the taxonomy.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var amb *AmbiguousMappingError
	if errors.As(err, &amb) {
		return AmbiguousMapping
	}
	var mal *MalformedDiffError
	if errors.As(err, &mal) {
		return MalformedDiff
	}
	if errors.Is(err, ErrUnresolved) {
		return UnresolvedReference
	}
	return ""
}

// IsFatal reports whether err must abort the current file's pipeline.
// Errors outside the taxonomy are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) != UnresolvedReference
}
