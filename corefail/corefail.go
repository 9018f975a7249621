// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package corefail defines the tagged error kinds shared by the
// echelon, stability, kktsolve, newton and solver packages.
package corefail

import "fmt"

// Kind classifies the reason a core operation failed.
type Kind int

const (
	// DimMismatch signals a caller-supplied slice/matrix with the wrong shape.
	DimMismatch Kind = iota
	// NonFiniteInit signals a NaN/Inf objective or constraint evaluation at
	// the starting point, which the driver cannot recover from.
	NonFiniteInit
	// RankCollapse signals a structurally rank-deficient constraint matrix.
	// This kind is informational only: it is never returned as an error,
	// only carried for callers that want to report it (see echelon.Echelonizer.Rank).
	RankCollapse
	// PivotBreakdown signals a caller requested a swap pivot that is
	// numerically zero; this is a contract violation, not a recoverable state.
	PivotBreakdown
)

func (k Kind) String() string {
	switch k {
	case DimMismatch:
		return "dimension mismatch"
	case NonFiniteInit:
		return "non-finite evaluation at initial guess"
	case RankCollapse:
		return "rank-deficient constraint matrix"
	case PivotBreakdown:
		return "pivot breakdown"
	default:
		return "unknown"
	}
}

// Error is the tagged error value returned by core operations that can fail
// as part of normal operation (malformed input, non-finite evaluation).
// PivotBreakdown is never wrapped in an Error; it is a caller-contract
// violation and is raised via panic instead.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Panic raises a fail-fast panic naming the offending indices, for
// caller-contract violations rather than ordinary evaluation failures.
func Panic(format string, args ...any) {
	panic(fmt.Sprintf(format, args...))
}
