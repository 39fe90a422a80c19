package spread

import (
	"fmt"
	"io"
)

// OOXML binary record ids, the subset the decoder consumes. The workbook,
// style, shared-string and worksheet parts all use the same varint framing;
// the ids below follow the binary-workbook documentation.
const (
	b12Row            = 0x0000
	b12CellBlank      = 0x0001
	b12CellRK         = 0x0002
	b12CellError      = 0x0003
	b12CellBool       = 0x0004
	b12CellFloat      = 0x0005
	b12CellString     = 0x0006
	b12CellSharedStr  = 0x0007
	b12FormulaString  = 0x0008
	b12FormulaFloat   = 0x0009
	b12FormulaBool    = 0x000A
	b12FormulaError   = 0x000B
	b12SstItem        = 0x0013
	b12DefinedName    = 0x0027
	b12Fmt            = 0x002C
	b12XF             = 0x002F
	b12WorkbookEnd    = 0x0184
	b12SheetsEnd      = 0x0190
	b12SheetDataBegin = 0x0191
	b12SheetDataEnd   = 0x0192
	b12Dimension      = 0x0194
	b12Sheet          = 0x019C
	b12SstBegin       = 0x019F
	b12WorkbookPr     = 0x0199
	b12MergeCell      = 0x01B0
	b12CellXfsBegin   = 0x04E9
	b12CellXfsEnd     = 0x04EA
)

// xlsbDecoder reads OOXML binary workbooks. Part layout mirrors the XML
// flavor, entry for entry, but every part is a varint-framed binary record
// stream instead of XML; only the relationship parts stay XML.
type xlsbDecoder struct {
	archive *zipArchive
	meta    *workbookMetadata
	tabs    *sharedTables
	warns   *warningList

	sheetParts []string
}

func openXLSB(archive *zipArchive, warns *warningList) (decoder, error) {
	d := &xlsbDecoder{
		archive: archive,
		meta:    &workbookMetadata{},
		tabs:    newSharedTables(),
		warns:   warns,
	}

	rels, err := parseWorkbookRels(archive, "xl/_rels/workbook.bin.rels")
	if err != nil {
		return nil, err
	}
	if err := d.parseWorkbookPart(rels); err != nil {
		return nil, err
	}
	if err := d.parseSharedStrings(); err != nil {
		return nil, err
	}
	if err := d.parseStyles(); err != nil {
		return nil, err
	}
	d.scanSheetDimensions()
	return d, nil
}

func (d *xlsbDecoder) metadata() *workbookMetadata { return d.meta }

func (d *xlsbDecoder) close() error {
	d.archive = nil
	return nil
}

func (d *xlsbDecoder) parseWorkbookPart(rels map[string]string) error {
	rc, err := d.archive.openEntry("xl/workbook.bin")
	if err != nil {
		return err
	}
	defer rc.Close()

	s := newBiff12Stream(rc)
	for {
		id, data, err := s.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &MalformedContainerError{Scope: "workbook", Reason: "truncated workbook part", Err: err}
		}
		switch id {
		case b12WorkbookEnd:
			return nil
		case b12WorkbookPr:
			r := &biff12Record{data: data}
			if flags, ok := r.uint8(); ok && flags&0x01 != 0 {
				d.meta.datemode = 1
			}
		case b12Sheet:
			d.handleSheet(data, rels)
		case b12DefinedName:
			d.handleDefinedName(data)
		}
	}
	return nil
}

// handleSheet decodes one sheet-directory record: visibility state, sheet id,
// relationship id, display name.
func (d *xlsbDecoder) handleSheet(data []byte, rels map[string]string) {
	r := &biff12Record{data: data}
	hsState, ok := r.uint32()
	if !ok {
		d.warns.addf("skipping short sheet record")
		return
	}
	if _, ok := r.uint32(); !ok { // sheet id, unused
		d.warns.addf("skipping short sheet record")
		return
	}
	relID, ok := r.wideString()
	if !ok {
		d.warns.addf("skipping sheet record with malformed relationship id")
		return
	}
	name, ok := r.wideString()
	if !ok {
		d.warns.addf("skipping sheet record with malformed name")
		return
	}

	part, ok := rels[relID]
	if !ok {
		d.warns.addf("sheet %q: no relationship %q, sheet skipped", name, relID)
		return
	}
	vis := VisibilityVisible
	switch hsState {
	case 1:
		vis = VisibilityHidden
	case 2:
		vis = VisibilityVeryHidden
	}
	d.meta.sheets = append(d.meta.sheets, SheetMetadata{
		Name:       name,
		Index:      len(d.meta.sheets),
		Visibility: vis,
	})
	d.sheetParts = append(d.sheetParts, part)
}

// handleDefinedName keeps the name only; the reference that follows it is
// formula bytecode and stays undecoded.
func (d *xlsbDecoder) handleDefinedName(data []byte) {
	r := &biff12Record{data: data}
	if !r.skip(4) { // flags
		return
	}
	if _, ok := r.uint8(); !ok { // keyboard shortcut
		return
	}
	name, ok := r.wideString()
	if !ok || name == "" {
		return
	}
	d.meta.definedNames = append(d.meta.definedNames, DefinedName{Name: name})
}

func (d *xlsbDecoder) parseSharedStrings() error {
	if !d.archive.hasEntry("xl/sharedStrings.bin") {
		return nil
	}
	rc, err := d.archive.openEntry("xl/sharedStrings.bin")
	if err != nil {
		return err
	}
	defer rc.Close()

	s := newBiff12Stream(rc)
	declared := -1
	for {
		id, data, err := s.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &MalformedContainerError{Scope: "workbook", Reason: "truncated shared-string part", Err: err}
		}
		switch id {
		case b12SstBegin:
			r := &biff12Record{data: data}
			r.skip(4) // total reference count
			if unique, ok := r.uint32(); ok {
				declared = int(unique)
				d.tabs.strings = make([]string, 0, unique)
			}
		case b12SstItem:
			r := &biff12Record{data: data}
			r.skip(1) // rich/phonetic flags; decoration follows the text
			str, ok := r.wideString()
			if !ok {
				d.warns.addf("shared-string entry %d malformed", len(d.tabs.strings))
				str = ""
			}
			d.tabs.strings = append(d.tabs.strings, str)
		}
	}
	// The declared unique count is structural framing for the part.
	if declared >= 0 && len(d.tabs.strings) < declared {
		return &MalformedContainerError{
			Scope:  "workbook",
			Reason: fmt.Sprintf("shared-string part declares %d entries but holds %d", declared, len(d.tabs.strings)),
		}
	}
	return nil
}

// parseStyles collects custom format definitions and the cell-style table.
// Only XF records inside the cellXfs section map cells to formats; the
// style-XF section that precedes it is ignored.
func (d *xlsbDecoder) parseStyles() error {
	if !d.archive.hasEntry("xl/styles.bin") {
		return nil
	}
	rc, err := d.archive.openEntry("xl/styles.bin")
	if err != nil {
		return err
	}
	defer rc.Close()

	s := newBiff12Stream(rc)
	inCellXfs := false
	for {
		id, data, err := s.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &MalformedContainerError{Scope: "workbook", Reason: "truncated styles part", Err: err}
		}
		switch id {
		case b12Fmt:
			r := &biff12Record{data: data}
			fmtID, ok := r.uint16()
			if !ok {
				continue
			}
			code, ok := r.wideString()
			if !ok {
				d.warns.addf("format %d: malformed code", fmtID)
				continue
			}
			d.tabs.addFormat(int(fmtID), code)
		case b12CellXfsBegin:
			inCellXfs = true
		case b12CellXfsEnd:
			inCellXfs = false
		case b12XF:
			if !inCellXfs {
				continue
			}
			r := &biff12Record{data: data}
			r.skip(2) // parent style XF
			fmtID, ok := r.uint16()
			if !ok {
				continue
			}
			d.tabs.xfFormats = append(d.tabs.xfFormats, int(fmtID))
		}
	}
	return nil
}

// scanSheetDimensions reads each sheet part up to the start of its row data,
// picking up the dimension record on the way.
func (d *xlsbDecoder) scanSheetDimensions() {
	for idx, part := range d.sheetParts {
		rc, err := d.archive.openEntry(part)
		if err != nil {
			continue
		}
		s := newBiff12Stream(rc)
	scan:
		for {
			id, data, err := s.next()
			if err != nil {
				break
			}
			switch id {
			case b12Dimension:
				if dim, ok := parseBiff12Dimension(data); ok {
					d.meta.sheets[idx].Dimension = dim
				}
				break scan
			case b12SheetDataBegin:
				break scan
			}
		}
		rc.Close()
	}
}

func parseBiff12Dimension(data []byte) (*Dimension, bool) {
	r := &biff12Record{data: data}
	rwFirst, ok1 := r.uint32()
	rwLast, ok2 := r.uint32()
	colFirst, ok3 := r.uint32()
	colLast, ok4 := r.uint32()
	if !ok1 || !ok2 || !ok3 || !ok4 || rwLast < rwFirst || colLast < colFirst {
		return nil, false
	}
	return &Dimension{
		FirstRow: int(rwFirst), FirstCol: int(colFirst),
		LastRow: int(rwLast), LastCol: int(colLast),
	}, true
}

func (d *xlsbDecoder) mergedRanges(idx int) ([]Range, error) {
	rc, err := d.archive.openEntry(d.sheetParts[idx])
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var out []Range
	s := newBiff12Stream(rc)
	for {
		id, data, err := s.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, &MalformedContainerError{Scope: d.meta.sheets[idx].Name, Reason: "truncated sheet part", Err: err}
		}
		if id != b12MergeCell {
			continue
		}
		r := &biff12Record{data: data}
		rwFirst, ok1 := r.uint32()
		rwLast, ok2 := r.uint32()
		colFirst, ok3 := r.uint32()
		colLast, ok4 := r.uint32()
		if ok1 && ok2 && ok3 && ok4 {
			out = append(out, Range{
				FirstRow: int(rwFirst), FirstCol: int(colFirst),
				LastRow: int(rwLast), LastCol: int(colLast),
			})
		}
	}
	return out, nil
}

func (d *xlsbDecoder) openCursor(idx int) (SheetCursor, error) {
	rc, err := d.archive.openEntry(d.sheetParts[idx])
	if err != nil {
		return nil, err
	}
	return &xlsbCursor{
		dec:    d,
		rc:     rc,
		s:      newBiff12Stream(rc),
		sheet:  d.meta.sheets[idx].Name,
		curRow: -1,
	}, nil
}

// xlsbCursor streams one sheet part's records into rows. A row record opens a
// row; the cell records that follow belong to it until the next row record or
// the end of the row-data section.
type xlsbCursor struct {
	dec   *xlsbDecoder
	rc    io.ReadCloser
	s     *biff12Stream
	sheet string

	curRow  int
	cells   []CellValue
	haveRow bool
	nextRow int // row index deferred by the previous pull
	pending bool
	done    bool
	sticky  error
}

func (c *xlsbCursor) Close() error {
	if c.done {
		return nil
	}
	c.done = true
	return c.rc.Close()
}

func (c *xlsbCursor) Next() (Row, error) {
	if c.sticky != nil {
		return Row{}, c.sticky
	}
	if c.done {
		return Row{}, ErrEndOfSheet
	}

	if c.pending {
		c.pending = false
		c.haveRow = true
		c.curRow = c.nextRow
		c.cells = c.cells[:0]
	}

	for {
		id, data, err := c.s.next()
		if err == io.EOF {
			return c.finish(nil)
		}
		if err != nil {
			trunc := &SheetTruncatedError{Sheet: c.sheet, Row: c.curRow, Reason: "record overruns part"}
			if c.haveRow {
				c.sticky = trunc
				row := c.takeRow()
				return row, nil
			}
			return c.finish(trunc)
		}

		switch id {
		case b12SheetDataEnd:
			return c.finish(nil)
		case b12Row:
			r := &biff12Record{data: data}
			rw, ok := r.uint32()
			if !ok {
				c.dec.warns.addf("sheet %q: short row record", c.sheet)
				continue
			}
			if c.haveRow && int(rw) < c.curRow {
				c.dec.warns.addf("sheet %q: out-of-order row %d", c.sheet, rw)
				continue
			}
			if c.haveRow && len(c.cells) > 0 {
				c.pending = true
				c.nextRow = int(rw)
				return c.takeRow(), nil
			}
			c.haveRow = true
			c.curRow = int(rw)
			c.cells = c.cells[:0]
		case b12CellBlank, b12CellRK, b12CellError, b12CellBool, b12CellFloat,
			b12CellString, b12CellSharedStr, b12FormulaString, b12FormulaFloat,
			b12FormulaBool, b12FormulaError:
			c.decodeCell(id, data)
		}
	}
}

func (c *xlsbCursor) finish(err error) (Row, error) {
	defer func() {
		c.done = true
		c.rc.Close()
	}()
	if err != nil {
		c.sticky = err
		return Row{}, err
	}
	if c.haveRow && len(c.cells) > 0 {
		return c.takeRow(), nil
	}
	return Row{}, ErrEndOfSheet
}

func (c *xlsbCursor) takeRow() Row {
	row := Row{Index: c.curRow, Cells: trimRow(append([]CellValue(nil), c.cells...))}
	c.haveRow = false
	c.cells = c.cells[:0]
	return row
}

// decodeCell decodes one cell record. All cell records share a prefix: a
// column index and a style reference (24 bits of style, 8 of flags), then the
// type-specific payload. Formula variants carry the cached result in the same
// layout as their plain counterparts.
func (c *xlsbCursor) decodeCell(id int, data []byte) {
	if !c.haveRow {
		c.dec.warns.addf("sheet %q: cell record outside a row", c.sheet)
		return
	}
	r := &biff12Record{data: data}
	col32, ok := r.uint32()
	if !ok {
		c.dec.warns.addf("sheet %q: short cell record in row %d", c.sheet, c.curRow)
		return
	}
	style32, ok := r.uint32()
	if !ok {
		c.dec.warns.addf("sheet %q: short cell record in row %d", c.sheet, c.curRow)
		return
	}
	col := int(col32)
	styleIdx := int(style32 & 0xFFFFFF)

	var v CellValue
	switch id {
	case b12CellBlank:
		v = EmptyValue()
	case b12CellRK:
		rk32, ok := r.uint32()
		if !ok {
			c.malformedCell(col)
			return
		}
		v = c.numeric(rkNumber(rk32).float64(), styleIdx)
	case b12CellError, b12FormulaError:
		code, ok := r.uint8()
		if !ok {
			c.malformedCell(col)
			return
		}
		v = ErrorValue(biffErrorString(code))
	case b12CellBool, b12FormulaBool:
		b, ok := r.uint8()
		if !ok {
			c.malformedCell(col)
			return
		}
		v = BoolValue(b != 0)
	case b12CellFloat, b12FormulaFloat:
		f, ok := r.float64()
		if !ok {
			c.malformedCell(col)
			return
		}
		v = c.numeric(f, styleIdx)
	case b12CellString, b12FormulaString:
		s, ok := r.wideString()
		if !ok {
			c.malformedCell(col)
			return
		}
		v = StringValue(s)
	case b12CellSharedStr:
		idx32, ok := r.uint32()
		if !ok {
			c.malformedCell(col)
			return
		}
		s, ok := c.dec.tabs.sharedString(int(idx32))
		if !ok {
			c.dec.warns.addf("sheet %q: shared-string index %d out of range at row %d, col %d", c.sheet, idx32, c.curRow, col)
			v = ErrorValue("#REF!")
		} else {
			v = StringValue(s)
		}
	}

	for len(c.cells) <= col {
		c.cells = append(c.cells, EmptyValue())
	}
	c.cells[col] = v
}

func (c *xlsbCursor) malformedCell(col int) {
	c.dec.warns.addf("sheet %q: malformed cell payload at row %d, col %d", c.sheet, c.curRow, col)
}

func (c *xlsbCursor) numeric(v float64, styleIdx int) CellValue {
	class, ok := c.dec.tabs.classForXF(styleIdx)
	if !ok {
		class = FormatGeneral
	}
	return numericCell(v, class, c.dec.meta.datemode, c.sheet, c.dec.warns)
}
