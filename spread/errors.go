package spread

import (
	"errors"
	"fmt"
)

// ErrEndOfSheet is returned by SheetCursor.Next once the sheet's row stream
// is exhausted. Subsequent calls keep returning it.
var ErrEndOfSheet = errors.New("spread: end of sheet")

// UnsupportedFormatError indicates that the input's signature did not match
// any supported container format. The workbook is not opened.
type UnsupportedFormatError struct {
	// Detected is a short description of what the signature looked like,
	// e.g. "zip archive without a workbook entry" or "unknown signature".
	Detected string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("spread: unsupported format: %s", e.Detected)
}

// MalformedContainerError indicates that the container's structural framing
// is violated: a truncated directory, a table whose declared size exceeds the
// available bytes, a missing required entry. It is fatal for the scope it
// names: the whole workbook during the header phase, a single sheet during
// row streaming.
type MalformedContainerError struct {
	Scope  string // "workbook" or the sheet name
	Reason string
	Err    error // underlying error, may be nil
}

func (e *MalformedContainerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("spread: malformed container (%s): %s: %v", e.Scope, e.Reason, e.Err)
	}
	return fmt.Sprintf("spread: malformed container (%s): %s", e.Scope, e.Reason)
}

func (e *MalformedContainerError) Unwrap() error {
	return e.Err
}

// SheetNotFoundError is returned when a sheet name or index does not match
// the workbook metadata. Index is -1 for name lookups, Name empty for index
// lookups.
type SheetNotFoundError struct {
	Name  string
	Index int
}

func (e *SheetNotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("spread: no sheet named %q", e.Name)
	}
	return fmt.Sprintf("spread: sheet index %d out of range", e.Index)
}

// SheetTruncatedError indicates that a sheet's row stream ended earlier than
// its framing declared, or a row boundary was inconsistent with the stream
// position. Rows yielded before the error remain valid; other sheets in the
// workbook are unaffected.
type SheetTruncatedError struct {
	Sheet  string
	Row    int // index of the row being decoded when truncation was hit
	Reason string
}

func (e *SheetTruncatedError) Error() string {
	return fmt.Sprintf("spread: sheet %q truncated at row %d: %s", e.Sheet, e.Row, e.Reason)
}
