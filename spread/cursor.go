package spread

// Row is one decoded sheet row. Cells holds one value per occupied or
// implied column up to the row's last non-empty cell. Index is the zero-based
// row number as encountered in the source; successive rows from one cursor
// have strictly increasing indices, with gaps where the source omits empty
// rows.
type Row struct {
	Index int
	Cells []CellValue
}

// SheetCursor is a lazy, forward-only, single-pass row producer for one
// opened sheet. It is not restartable: re-reading a sheet means opening a
// fresh cursor from the Workbook. A cursor must only be advanced by its
// single owner; it borrows the workbook's shared tables and must not outlive
// the workbook.
type SheetCursor interface {
	// Next decodes and returns the next row. It returns ErrEndOfSheet once
	// the sheet is exhausted, and keeps returning it on further calls. A
	// *SheetTruncatedError means the remainder of this sheet is unreadable;
	// rows already returned remain valid and other sheets are unaffected.
	Next() (Row, error)

	// Close releases the cursor's resources. It is safe to call more than
	// once.
	Close() error
}

// trimRow drops trailing empty cells so the row ends at its last non-empty
// cell, per the Row contract.
func trimRow(cells []CellValue) []CellValue {
	n := len(cells)
	for n > 0 && cells[n-1].IsEmpty() {
		n--
	}
	return cells[:n]
}
