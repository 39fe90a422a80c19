package spread

// Visibility is a sheet's visibility state. VeryHidden sheets cannot be
// unhidden through the spreadsheet application's UI; the state exists only in
// the Excel family of formats.
type Visibility int

const (
	VisibilityVisible Visibility = iota
	VisibilityHidden
	VisibilityVeryHidden
)

var visibilityNames = map[Visibility]string{
	VisibilityVisible:    "visible",
	VisibilityHidden:     "hidden",
	VisibilityVeryHidden: "very-hidden",
}

func (v Visibility) String() string {
	if s, ok := visibilityNames[v]; ok {
		return s
	}
	return "visible"
}

// Dimension is a sheet's declared extent. Sources may omit it or declare it
// approximately; absence is represented by a nil *Dimension on SheetMetadata,
// not by an error.
type Dimension struct {
	FirstRow, FirstCol int
	LastRow, LastCol   int // inclusive
}

// Range is a zero-based, inclusive cell rectangle, used for merged-cell
// ranges.
type Range struct {
	FirstRow, FirstCol int
	LastRow, LastCol   int
}

// SheetMetadata describes one sheet without touching its row data.
type SheetMetadata struct {
	// Name is the sheet's display name, unique within the workbook.
	Name string

	// Index is the zero-based position of the sheet in workbook order.
	Index int

	// Visibility is the sheet's visibility state.
	Visibility Visibility

	// Dimension is the declared row/column extent, nil when the source does
	// not declare one.
	Dimension *Dimension
}

// DefinedName is a workbook-level named reference. Ref is the textual range
// reference when the source stores one as text (OOXML XML, OpenDocument);
// binary formats encode references as formula bytecode, which is out of
// scope, so Ref is empty there.
type DefinedName struct {
	Name string
	Ref  string
}

// workbookMetadata aggregates everything the header phase learns, uniformly
// across decoders.
type workbookMetadata struct {
	sheets       []SheetMetadata
	definedNames []DefinedName

	// datemode selects the serial date epoch: 0 for 1900-based, 1 for
	// 1904-based.
	datemode int

	// merged caches per-sheet merged ranges, filled on demand by the
	// decoder's mergedRanges. A nil entry means not yet computed.
	merged [][]Range
}

func (m *workbookMetadata) sheetIndex(name string) int {
	for i := range m.sheets {
		if m.sheets[i].Name == name {
			return i
		}
	}
	return -1
}
