package spread

import (
	"os"
)

// decoder is the per-format engine behind a Workbook. Implementations follow
// the same three-phase protocol: the constructor runs the header phase
// (container metadata, shared tables, sheet list), openCursor runs the
// sheet-open phase and returns a row-streaming cursor, mergedRanges performs
// a bounded metadata scan of one sheet. One implementation exists per
// container format, selected once at open time.
type decoder interface {
	metadata() *workbookMetadata
	openCursor(sheetIndex int) (SheetCursor, error)
	mergedRanges(sheetIndex int) ([]Range, error)
	close() error
}

// Workbook is an open spreadsheet document. It owns the container handle and
// the shared resource tables, and hands out per-sheet cursors on demand. It
// is not safe for concurrent use; open one cursor per sheet and advance each
// from a single goroutine.
type Workbook struct {
	format FormatKind
	dec    decoder
	warns  *warningList
	closed bool
}

// OpenOptions tunes decoding. The zero value (and a nil pointer) selects the
// defaults.
type OpenOptions struct {
	// CodepageOverride forces the text codepage for legacy binary workbooks,
	// overriding the workbook's own CODEPAGE record. Useful for files written
	// by tools that declare the wrong codepage. Zero means trust the file.
	// Ignored for the XML and OOXML binary formats, which are Unicode.
	CodepageOverride int
}

// Open reads the file at path and opens it as a workbook.
func Open(path string) (*Workbook, error) {
	return OpenWithOptions(path, nil)
}

// OpenWithOptions is Open with decoding options.
func OpenWithOptions(path string, opts *OpenOptions) (*Workbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return OpenBytesWithOptions(data, opts)
}

// OpenBytes opens a workbook from an in-memory document. The format is
// selected by container signature alone: compound-file magic or a raw BIFF
// BOF prefix means the legacy binary decoder; the zip magic routes through
// the archive's required inner entry. Unknown signatures fail with
// *UnsupportedFormatError, never a guessed format.
func OpenBytes(data []byte) (*Workbook, error) {
	return OpenBytesWithOptions(data, nil)
}

// OpenBytesWithOptions is OpenBytes with decoding options.
func OpenBytesWithOptions(data []byte, opts *OpenOptions) (*Workbook, error) {
	if opts == nil {
		opts = &OpenOptions{}
	}
	if len(data) == 0 {
		return nil, &UnsupportedFormatError{Detected: "empty input"}
	}
	peek := data
	if len(peek) > peekSize {
		peek = peek[:peekSize]
	}

	warns := &warningList{}

	if isZipPrefix(peek) {
		archive, err := newZipArchive(data)
		if err != nil {
			return nil, err
		}
		format := detectZip(archive)
		var dec decoder
		switch format {
		case FormatXLSX:
			dec, err = openXLSX(archive, warns)
		case FormatXLSB:
			dec, err = openXLSB(archive, warns)
		case FormatODS:
			dec, err = openODS(archive, warns)
		default:
			return nil, &UnsupportedFormatError{Detected: "zip archive without a workbook entry"}
		}
		if err != nil {
			return nil, err
		}
		return &Workbook{format: format, dec: dec, warns: warns}, nil
	}

	if DetectFormat(peek) == FormatXLS {
		dec, err := openXLS(data, warns, opts)
		if err != nil {
			return nil, err
		}
		return &Workbook{format: FormatXLS, dec: dec, warns: warns}, nil
	}

	return nil, &UnsupportedFormatError{Detected: "unknown signature"}
}

// Format reports which container format the workbook was decoded from.
func (wb *Workbook) Format() FormatKind {
	return wb.format
}

// SheetNames returns all sheet names in workbook order.
func (wb *Workbook) SheetNames() []string {
	meta := wb.dec.metadata()
	names := make([]string, len(meta.sheets))
	for i := range meta.sheets {
		names[i] = meta.sheets[i].Name
	}
	return names
}

// SheetCount returns the number of sheets.
func (wb *Workbook) SheetCount() int {
	return len(wb.dec.metadata().sheets)
}

// SheetMetadata returns the metadata for the named sheet. The call is
// idempotent and consumes no row-stream state.
func (wb *Workbook) SheetMetadata(name string) (SheetMetadata, error) {
	meta := wb.dec.metadata()
	idx := meta.sheetIndex(name)
	if idx < 0 {
		return SheetMetadata{}, &SheetNotFoundError{Name: name, Index: -1}
	}
	return meta.sheets[idx], nil
}

// SheetMetadataAt returns the metadata for the sheet at the zero-based index.
func (wb *Workbook) SheetMetadataAt(index int) (SheetMetadata, error) {
	meta := wb.dec.metadata()
	if index < 0 || index >= len(meta.sheets) {
		return SheetMetadata{}, &SheetNotFoundError{Index: index}
	}
	return meta.sheets[index], nil
}

// OpenSheet opens a fresh row cursor over the named sheet. Each call returns
// an independent cursor positioned at the sheet's start.
func (wb *Workbook) OpenSheet(name string) (SheetCursor, error) {
	meta := wb.dec.metadata()
	idx := meta.sheetIndex(name)
	if idx < 0 {
		return nil, &SheetNotFoundError{Name: name, Index: -1}
	}
	return wb.dec.openCursor(idx)
}

// OpenSheetAt opens a fresh row cursor over the sheet at the zero-based
// index.
func (wb *Workbook) OpenSheetAt(index int) (SheetCursor, error) {
	meta := wb.dec.metadata()
	if index < 0 || index >= len(meta.sheets) {
		return nil, &SheetNotFoundError{Index: index}
	}
	return wb.dec.openCursor(index)
}

// DefinedNames returns the workbook's named references as a name-to-reference
// mapping. Binary formats store references as formula bytecode, which is not
// decoded; those names map to an empty reference.
func (wb *Workbook) DefinedNames() map[string]string {
	meta := wb.dec.metadata()
	out := make(map[string]string, len(meta.definedNames))
	for _, dn := range meta.definedNames {
		out[dn.Name] = dn.Ref
	}
	return out
}

// MergedRanges returns the merged-cell ranges of the named sheet. The result
// is computed with a bounded metadata scan on first use and cached.
func (wb *Workbook) MergedRanges(sheet string) ([]Range, error) {
	meta := wb.dec.metadata()
	idx := meta.sheetIndex(sheet)
	if idx < 0 {
		return nil, &SheetNotFoundError{Name: sheet, Index: -1}
	}
	if meta.merged == nil {
		meta.merged = make([][]Range, len(meta.sheets))
	}
	if meta.merged[idx] == nil {
		ranges, err := wb.dec.mergedRanges(idx)
		if err != nil {
			return nil, err
		}
		if ranges == nil {
			ranges = []Range{}
		}
		meta.merged[idx] = ranges
	}
	return meta.merged[idx], nil
}

// Warnings returns the cell-level decode warnings accumulated so far: bad
// shared-string indices, unknown format ids, out-of-range date serials,
// malformed table entries that were skipped. Warnings keep accumulating as
// cursors are pulled.
func (wb *Workbook) Warnings() []string {
	return append([]string(nil), wb.warns.msgs...)
}

// Close releases the underlying container. It is idempotent.
func (wb *Workbook) Close() error {
	if wb.closed {
		return nil
	}
	wb.closed = true
	return wb.dec.close()
}

// DateMode reports the serial date epoch in force: 0 for the 1900 system, 1
// for the 1904 system.
func (wb *Workbook) DateMode() int {
	return wb.dec.metadata().datemode
}
