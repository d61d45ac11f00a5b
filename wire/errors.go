// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

package wire

import "fmt"

// FramingError wraps a failure to read or write a length-prefixed frame:
// a short read mid-frame, excess buffered data, or a transport failure.
type FramingError struct {
	Op  string
	Err error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("wire: framing error during %s: %v", e.Op, e.Err)
}

func (e *FramingError) Unwrap() error { return e.Err }

// UnknownTagError reports a request or response tag the codec does not
// recognize.
type UnknownTagError struct {
	Kind string
	Tag  uint16
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("wire: unknown %s tag %d", e.Kind, e.Tag)
}

// InvalidEnumError reports a recognized field whose decoded discriminant is
// out of range for its enum (for example an Open access mode of 9).
type InvalidEnumError struct {
	Field string
	Value uint16
}

func (e *InvalidEnumError) Error() string {
	return fmt.Sprintf("wire: invalid enum discriminant %d for %s", e.Value, e.Field)
}
