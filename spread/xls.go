package spread

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// xlsDecoder reads legacy binary workbooks: a BIFF record stream hosted in a
// compound file's "Workbook"/"Book" stream, or a bare record stream for
// ancient files written without the wrapper. The header phase parses the
// workbook-globals substream; each sheet's rows are streamed from the
// absolute position its BOUNDSHEET record declares.
type xlsDecoder struct {
	mem   []byte
	meta  *workbookMetadata
	tabs  *sharedTables
	warns *warningList

	biffVersion int
	codepage    int

	// sheetPositions holds each sheet's absolute BOF offset in mem.
	sheetPositions []int

	// codepagePinned is set when the caller forced a codepage; the CODEPAGE
	// record is then ignored.
	codepagePinned bool
}

func openXLS(data []byte, warns *warningList, opts *OpenOptions) (decoder, error) {
	mem := data
	if bytes.HasPrefix(data, cfbSignature) {
		stream, err := locateCompoundStream(data, "Workbook", "Book")
		if err != nil {
			return nil, err
		}
		mem = stream
	}

	d := &xlsDecoder{
		mem:      mem,
		meta:     &workbookMetadata{},
		tabs:     newSharedTables(),
		warns:    warns,
		codepage: 1252,
	}
	if opts != nil && opts.CodepageOverride != 0 {
		d.codepage = opts.CodepageOverride
		d.codepagePinned = true
	}
	if err := d.parseGlobals(); err != nil {
		return nil, err
	}
	d.scanSheetStructures()
	return d, nil
}

func (d *xlsDecoder) metadata() *workbookMetadata { return d.meta }

func (d *xlsDecoder) close() error {
	d.mem = nil
	return nil
}

// parseGlobals runs the header phase over the workbook-globals substream:
// BOF, then the record loop that builds the sheet list and shared tables,
// terminated by the substream's EOF record.
func (d *xlsDecoder) parseGlobals() error {
	s := newBiffStream(d.mem, 0)
	version, streamType, err := d.readBOF(s)
	if err != nil {
		return err
	}
	d.biffVersion = version

	if version < 50 && streamType == biffWorksheet {
		// Single-worksheet file without globals: the whole stream is the one
		// sheet, starting at offset 0.
		d.meta.sheets = []SheetMetadata{{Name: "Sheet1", Index: 0, Visibility: VisibilityVisible}}
		d.sheetPositions = []int{0}
		return nil
	}

	var pendingSST []byte
	var sstContinues [][]byte

	flushSST := func() error {
		if pendingSST == nil {
			return nil
		}
		err := d.handleSST(pendingSST, sstContinues)
		pendingSST = nil
		sstContinues = nil
		return err
	}

	for {
		code, data, err := s.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &MalformedContainerError{Scope: "workbook", Reason: "truncated globals record", Err: err}
		}

		if code != recContinue {
			if err := flushSST(); err != nil {
				return err
			}
		}

		switch code {
		case recEOF:
			return flushSST()
		case recFilepass:
			return &UnsupportedFormatError{Detected: "encrypted workbook"}
		case recBoundsheet:
			d.handleBoundsheet(data)
		case recCodepage:
			d.handleCodepage(data)
		case recDatemode:
			d.handleDatemode(data)
		case recFormat:
			d.handleFormat(data)
		case recXF:
			d.handleXF(data)
		case recSST:
			pendingSST = data
		case recContinue:
			if pendingSST != nil {
				sstContinues = append(sstContinues, data)
			}
		case recName:
			d.handleName(data)
		}
	}
	return flushSST()
}

// readBOF consumes a BOF record and derives the BIFF version the way the
// reference readers do: from the opcode's high byte, refined by the version
// field for the 0x0809 opcode.
func (d *xlsDecoder) readBOF(s *biffStream) (version int, streamType int, err error) {
	code, data, rerr := s.next()
	if rerr != nil {
		return 0, 0, &MalformedContainerError{Scope: "workbook", Reason: "expected BOF record", Err: rerr}
	}
	expected, ok := biffBofLengths[code]
	if !ok {
		return 0, 0, &MalformedContainerError{Scope: "workbook", Reason: "stream does not start with BOF"}
	}
	if len(data) < 4 {
		return 0, 0, &MalformedContainerError{Scope: "workbook", Reason: "short BOF record"}
	}
	if len(data) < expected {
		padded := make([]byte, expected)
		copy(padded, data)
		data = padded
	}

	version2 := binary.LittleEndian.Uint16(data[0:2])
	streamType = int(binary.LittleEndian.Uint16(data[2:4]))

	switch code >> 8 {
	case 0x08:
		switch version2 {
		case 0x0600:
			version = 80
		case 0x0500:
			version = 50
		default:
			version = 80
		}
	case 0x04:
		version = 40
	case 0x02:
		version = 30
	default:
		version = 20
	}
	return version, streamType, nil
}

func (d *xlsDecoder) handleBoundsheet(data []byte) {
	if len(data) < 6 {
		d.warns.addf("skipping short BOUNDSHEET record")
		return
	}
	offset := int(int32(binary.LittleEndian.Uint32(data[0:4])))
	visibility := int(data[4] & 0x03)
	sheetType := int(data[5])

	var name string
	var ok bool
	if d.biffVersion >= 80 {
		name, _, ok = unpackUnicodeString(data, 6, 1)
	} else {
		name, _, ok = unpackByteString(data, 6, 1, d.codepage)
	}
	if !ok {
		d.warns.addf("skipping BOUNDSHEET record with malformed name")
		return
	}

	if sheetType != biffBoundsheetWorksheet {
		// Chart and macro sheets are listed in the directory but carry no
		// cell grid.
		return
	}

	vis := VisibilityVisible
	switch visibility {
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
	d.sheetPositions = append(d.sheetPositions, offset)
}

func (d *xlsDecoder) handleCodepage(data []byte) {
	if d.codepagePinned || len(data) < 2 {
		return
	}
	d.codepage = int(binary.LittleEndian.Uint16(data[0:2]))
}

func (d *xlsDecoder) handleDatemode(data []byte) {
	if len(data) < 2 {
		return
	}
	mode := int(binary.LittleEndian.Uint16(data[0:2]))
	if mode == 0 || mode == 1 {
		d.meta.datemode = mode
	}
}

func (d *xlsDecoder) handleFormat(data []byte) {
	if len(data) < 2 {
		d.warns.addf("skipping short FORMAT record")
		return
	}
	id := int(binary.LittleEndian.Uint16(data[0:2]))
	var code string
	var ok bool
	if d.biffVersion >= 80 {
		code, _, ok = unpackUnicodeString(data, 2, 2)
	} else {
		code, _, ok = unpackByteString(data, 2, 1, d.codepage)
	}
	if !ok {
		d.warns.addf("skipping FORMAT record %d with malformed code", id)
		return
	}
	d.tabs.addFormat(id, code)
}

func (d *xlsDecoder) handleXF(data []byte) {
	if len(data) < 4 {
		d.warns.addf("skipping short XF record")
		return
	}
	// Font index occupies bytes 0:2; the format key follows at 2:4 in every
	// BIFF version that has XF records.
	formatKey := int(binary.LittleEndian.Uint16(data[2:4]))
	d.tabs.xfFormats = append(d.tabs.xfFormats, formatKey)
}

// handleSST parses the shared-string table, stitching CONTINUE records back
// onto the payload. The declared unique-string count is structural framing:
// a stream that cannot satisfy it fails the whole open.
func (d *xlsDecoder) handleSST(data []byte, continues [][]byte) error {
	if len(data) < 8 {
		return &MalformedContainerError{Scope: "workbook", Reason: "short shared-string table header"}
	}
	unique := int(binary.LittleEndian.Uint32(data[4:8]))
	segs := newSSTSegments(data[8:], continues)
	d.tabs.strings = make([]string, 0, unique)
	for i := 0; i < unique; i++ {
		s, ok := segs.readString()
		if !ok {
			return &MalformedContainerError{
				Scope:  "workbook",
				Reason: fmt.Sprintf("shared-string table declares %d entries but ends after %d", unique, i),
			}
		}
		d.tabs.strings = append(d.tabs.strings, s)
	}
	return nil
}

// handleName records a defined name. The range reference is formula bytecode
// and stays undecoded; only the name survives.
func (d *xlsDecoder) handleName(data []byte) {
	if len(data) < 14 {
		return
	}
	nameLen := int(data[3])
	var name string
	var ok bool
	if d.biffVersion >= 80 {
		// The name is a unicode string without its own length prefix; the
		// flags byte sits at offset 14.
		if len(data) < 15 {
			return
		}
		options := data[14]
		if options&0x01 != 0 {
			if 15+2*nameLen > len(data) {
				return
			}
			name = decodeUTF16LE(data[15 : 15+2*nameLen])
		} else {
			if 15+nameLen > len(data) {
				return
			}
			name = decodeCodepage(data[15:15+nameLen], 1252)
		}
		ok = true
	} else {
		if 14+nameLen > len(data) {
			return
		}
		name = decodeCodepage(data[14:14+nameLen], d.codepage)
		ok = true
	}
	if ok && name != "" {
		d.meta.definedNames = append(d.meta.definedNames, DefinedName{Name: name})
	}
}

// scanSheetStructures walks each sheet substream once without decoding cell
// payloads, collecting the declared dimension and merged ranges. Structural
// trouble inside one sheet is recorded as a warning and scoped to that sheet.
func (d *xlsDecoder) scanSheetStructures() {
	merged := make([][]Range, len(d.meta.sheets))
	for idx := range d.meta.sheets {
		dim, ranges, err := d.scanSheet(idx)
		if err != nil {
			d.warns.addf("sheet %q: metadata scan: %v", d.meta.sheets[idx].Name, err)
		}
		d.meta.sheets[idx].Dimension = dim
		merged[idx] = ranges
	}
	d.meta.merged = merged
}

func (d *xlsDecoder) scanSheet(idx int) (*Dimension, []Range, error) {
	pos := d.sheetPositions[idx]
	if pos < 0 || pos >= len(d.mem) {
		return nil, nil, &MalformedContainerError{Scope: d.meta.sheets[idx].Name, Reason: "sheet offset outside stream"}
	}
	s := newBiffStream(d.mem, pos)
	if _, _, err := d.readBOF(s); err != nil {
		return nil, nil, err
	}

	var dim *Dimension
	var ranges []Range
	for {
		code, data, err := s.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return dim, ranges, &MalformedContainerError{Scope: d.meta.sheets[idx].Name, Reason: "truncated record", Err: err}
		}
		switch code {
		case recEOF:
			return dim, ranges, nil
		case recDimension:
			dim = parseBiffDimension(data)
		case recMergedCells:
			ranges = append(ranges, parseBiffMergedCells(data)...)
		}
	}
	return dim, ranges, nil
}

func parseBiffDimension(data []byte) *Dimension {
	if len(data) >= 14 {
		rwFirst := int(binary.LittleEndian.Uint32(data[0:4]))
		rwLast := int(binary.LittleEndian.Uint32(data[4:8]))
		colFirst := int(binary.LittleEndian.Uint16(data[8:10]))
		colLast := int(binary.LittleEndian.Uint16(data[10:12]))
		if rwLast <= rwFirst || colLast <= colFirst {
			return nil
		}
		// Last row/col are stored exclusive.
		return &Dimension{FirstRow: rwFirst, FirstCol: colFirst, LastRow: rwLast - 1, LastCol: colLast - 1}
	}
	if len(data) >= 10 {
		rwFirst := int(binary.LittleEndian.Uint16(data[0:2]))
		rwLast := int(binary.LittleEndian.Uint16(data[2:4]))
		colFirst := int(binary.LittleEndian.Uint16(data[4:6]))
		colLast := int(binary.LittleEndian.Uint16(data[6:8]))
		if rwLast <= rwFirst || colLast <= colFirst {
			return nil
		}
		return &Dimension{FirstRow: rwFirst, FirstCol: colFirst, LastRow: rwLast - 1, LastCol: colLast - 1}
	}
	return nil
}

func parseBiffMergedCells(data []byte) []Range {
	if len(data) < 2 {
		return nil
	}
	count := int(binary.LittleEndian.Uint16(data[0:2]))
	var out []Range
	pos := 2
	for i := 0; i < count && pos+8 <= len(data); i++ {
		out = append(out, Range{
			FirstRow: int(binary.LittleEndian.Uint16(data[pos : pos+2])),
			LastRow:  int(binary.LittleEndian.Uint16(data[pos+2 : pos+4])),
			FirstCol: int(binary.LittleEndian.Uint16(data[pos+4 : pos+6])),
			LastCol:  int(binary.LittleEndian.Uint16(data[pos+6 : pos+8])),
		})
		pos += 8
	}
	return out
}

func (d *xlsDecoder) mergedRanges(idx int) ([]Range, error) {
	// Collected during the open-time structure scan.
	if d.meta.merged != nil && idx < len(d.meta.merged) {
		return d.meta.merged[idx], nil
	}
	return nil, nil
}

// openCursor runs the sheet-open phase: seek to the sheet's absolute BOF
// position and verify it, then hand the record stream to a row cursor. Each
// cursor owns an independent stream view, so cursors over different sheets
// never share a position.
func (d *xlsDecoder) openCursor(idx int) (SheetCursor, error) {
	pos := d.sheetPositions[idx]
	if pos < 0 || pos >= len(d.mem) {
		return nil, &MalformedContainerError{Scope: d.meta.sheets[idx].Name, Reason: "sheet offset outside stream"}
	}
	s := newBiffStream(d.mem, pos)
	if _, _, err := d.readBOF(s); err != nil {
		return nil, err
	}
	return &xlsCursor{
		dec:     d,
		s:       s,
		sheet:   d.meta.sheets[idx].Name,
		strDest: -1,
	}, nil
}

// xlsCursor streams one sheet's cell records into rows. BIFF cell records
// carry explicit row/column coordinates, but multi-cell records (MULRK,
// MULBLANK) continue implicitly from their first column, and a formula's
// string result arrives in a separate STRING record that applies to the last
// formula cell seen.
type xlsCursor struct {
	dec   *xlsDecoder
	s     *biffStream
	sheet string

	cur     []CellValue // cells of the row being assembled
	curRow  int
	haveRow bool
	pending []pendingCell // cells belonging to the next row
	strDest int           // column awaiting a STRING result, -1 if none
	done    bool
	sticky  error
}

type pendingCell struct {
	row, col int
	v        CellValue
}

func (c *xlsCursor) Close() error {
	c.done = true
	return nil
}

func (c *xlsCursor) Next() (Row, error) {
	if c.sticky != nil {
		return Row{}, c.sticky
	}
	if c.done {
		return Row{}, ErrEndOfSheet
	}

	// Seed the row buffer from cells deferred by the previous pull.
	for _, pc := range c.pending {
		c.place(pc.row, pc.col, pc.v)
	}
	c.pending = c.pending[:0]

	for {
		code, data, err := c.s.next()
		if err == io.EOF {
			return c.finishSheet()
		}
		if err != nil {
			row := c.curRow
			c.sticky = &SheetTruncatedError{Sheet: c.sheet, Row: row, Reason: "record overruns stream"}
			if c.haveRow {
				// The assembled row is complete as far as the stream goes;
				// deliver it before surfacing the truncation.
				r := c.takeRow()
				return r, nil
			}
			return Row{}, c.sticky
		}

		switch code {
		case recEOF:
			return c.finishSheet()
		case recBOF:
			// A following substream (chart, macro) means this sheet is done.
			return c.finishSheet()
		case recNumber:
			if rw, col, v, ok := c.decodeNumber(data); ok {
				if done, r := c.emit(rw, col, v); done {
					return r, nil
				}
			}
		case recRK:
			if rw, col, v, ok := c.decodeRK(data); ok {
				if done, r := c.emit(rw, col, v); done {
					return r, nil
				}
			}
		case recMulRK:
			if done, r := c.decodeMulRK(data); done {
				return r, nil
			}
		case recBlank:
			if len(data) >= 6 {
				rw := int(binary.LittleEndian.Uint16(data[0:2]))
				col := int(binary.LittleEndian.Uint16(data[2:4]))
				if done, r := c.emit(rw, col, EmptyValue()); done {
					return r, nil
				}
			}
		case recMulBlank:
			if done, r := c.decodeMulBlank(data); done {
				return r, nil
			}
		case recLabelSST:
			if rw, col, v, ok := c.decodeLabelSST(data); ok {
				if done, r := c.emit(rw, col, v); done {
					return r, nil
				}
			}
		case recLabel, recRString:
			if rw, col, v, ok := c.decodeLabel(data); ok {
				if done, r := c.emit(rw, col, v); done {
					return r, nil
				}
			}
		case recBoolErr:
			if rw, col, v, ok := c.decodeBoolErr(data); ok {
				if done, r := c.emit(rw, col, v); done {
					return r, nil
				}
			}
		case recFormula:
			if rw, col, v, wantString, ok := c.decodeFormula(data); ok {
				if wantString {
					c.strDest = col
				}
				if done, r := c.emit(rw, col, v); done {
					return r, nil
				}
			}
		case recString:
			c.applyStringResult(data)
		}
	}
}

func (c *xlsCursor) finishSheet() (Row, error) {
	c.done = true
	if c.haveRow {
		return c.takeRow(), nil
	}
	return Row{}, ErrEndOfSheet
}

// emit places a decoded cell. When the cell starts a later row, the current
// row is returned and the cell is deferred to the next pull.
func (c *xlsCursor) emit(rw, col int, v CellValue) (bool, Row) {
	if c.haveRow && rw < c.curRow {
		c.dec.warns.addf("sheet %q: out-of-order cell at row %d, col %d", c.sheet, rw, col)
		return false, Row{}
	}
	if c.haveRow && rw > c.curRow {
		c.pending = append(c.pending, pendingCell{row: rw, col: col, v: v})
		return true, c.takeRow()
	}
	c.place(rw, col, v)
	return false, Row{}
}

func (c *xlsCursor) place(rw, col int, v CellValue) {
	if !c.haveRow {
		c.haveRow = true
		c.curRow = rw
		c.cur = c.cur[:0]
	}
	for len(c.cur) <= col {
		c.cur = append(c.cur, EmptyValue())
	}
	c.cur[col] = v
}

func (c *xlsCursor) takeRow() Row {
	row := Row{Index: c.curRow, Cells: trimRow(append([]CellValue(nil), c.cur...))}
	c.haveRow = false
	c.cur = c.cur[:0]
	c.strDest = -1
	return row
}

func (c *xlsCursor) cellClass(ixfe int) FormatClass {
	class, ok := c.dec.tabs.classForXF(ixfe)
	if !ok {
		c.dec.warns.addf("sheet %q: cell references unknown style %d", c.sheet, ixfe)
		return FormatGeneral
	}
	return class
}

func (c *xlsCursor) decodeNumber(data []byte) (int, int, CellValue, bool) {
	if len(data) < 14 {
		c.dec.warns.addf("sheet %q: short NUMBER record", c.sheet)
		return 0, 0, CellValue{}, false
	}
	rw := int(binary.LittleEndian.Uint16(data[0:2]))
	col := int(binary.LittleEndian.Uint16(data[2:4]))
	ixfe := int(binary.LittleEndian.Uint16(data[4:6]))
	num := math.Float64frombits(binary.LittleEndian.Uint64(data[6:14]))
	v := numericCell(num, c.cellClass(ixfe), c.dec.meta.datemode, c.sheet, c.dec.warns)
	return rw, col, v, true
}

func (c *xlsCursor) decodeRK(data []byte) (int, int, CellValue, bool) {
	if len(data) < 10 {
		c.dec.warns.addf("sheet %q: short RK record", c.sheet)
		return 0, 0, CellValue{}, false
	}
	rw := int(binary.LittleEndian.Uint16(data[0:2]))
	col := int(binary.LittleEndian.Uint16(data[2:4]))
	ixfe := int(binary.LittleEndian.Uint16(data[4:6]))
	rk := rkNumber(binary.LittleEndian.Uint32(data[6:10]))
	v := numericCell(rk.float64(), c.cellClass(ixfe), c.dec.meta.datemode, c.sheet, c.dec.warns)
	return rw, col, v, true
}

// decodeMulRK expands a MULRK record: one row, a first column, then packed
// (ixfe, rk) pairs for the columns that follow implicitly.
func (c *xlsCursor) decodeMulRK(data []byte) (bool, Row) {
	if len(data) < 12 {
		c.dec.warns.addf("sheet %q: short MULRK record", c.sheet)
		return false, Row{}
	}
	rw := int(binary.LittleEndian.Uint16(data[0:2]))
	colFirst := int(binary.LittleEndian.Uint16(data[2:4]))
	pairs := (len(data) - 6) / 6

	var flushed bool
	var row Row
	for i := 0; i < pairs; i++ {
		base := 4 + i*6
		ixfe := int(binary.LittleEndian.Uint16(data[base : base+2]))
		rk := rkNumber(binary.LittleEndian.Uint32(data[base+2 : base+6]))
		v := numericCell(rk.float64(), c.cellClass(ixfe), c.dec.meta.datemode, c.sheet, c.dec.warns)
		if done, r := c.emit(rw, colFirst+i, v); done {
			flushed, row = true, r
		}
	}
	return flushed, row
}

func (c *xlsCursor) decodeMulBlank(data []byte) (bool, Row) {
	if len(data) < 8 {
		return false, Row{}
	}
	rw := int(binary.LittleEndian.Uint16(data[0:2]))
	colFirst := int(binary.LittleEndian.Uint16(data[2:4]))
	colLast := int(binary.LittleEndian.Uint16(data[len(data)-2:]))

	var flushed bool
	var row Row
	for col := colFirst; col <= colLast; col++ {
		if done, r := c.emit(rw, col, EmptyValue()); done {
			flushed, row = true, r
		}
	}
	return flushed, row
}

func (c *xlsCursor) decodeLabelSST(data []byte) (int, int, CellValue, bool) {
	if len(data) < 10 {
		c.dec.warns.addf("sheet %q: short LABELSST record", c.sheet)
		return 0, 0, CellValue{}, false
	}
	rw := int(binary.LittleEndian.Uint16(data[0:2]))
	col := int(binary.LittleEndian.Uint16(data[2:4]))
	idx := int(binary.LittleEndian.Uint32(data[6:10]))
	s, ok := c.dec.tabs.sharedString(idx)
	if !ok {
		c.dec.warns.addf("sheet %q: shared-string index %d out of range at row %d, col %d", c.sheet, idx, rw, col)
		return rw, col, ErrorValue("#REF!"), true
	}
	return rw, col, StringValue(s), true
}

func (c *xlsCursor) decodeLabel(data []byte) (int, int, CellValue, bool) {
	if len(data) < 8 {
		c.dec.warns.addf("sheet %q: short LABEL record", c.sheet)
		return 0, 0, CellValue{}, false
	}
	rw := int(binary.LittleEndian.Uint16(data[0:2]))
	col := int(binary.LittleEndian.Uint16(data[2:4]))
	var s string
	var ok bool
	if c.dec.biffVersion >= 80 {
		s, _, ok = unpackUnicodeString(data, 6, 2)
	} else {
		s, _, ok = unpackByteString(data, 6, 2, c.dec.codepage)
	}
	if !ok {
		c.dec.warns.addf("sheet %q: malformed LABEL string at row %d, col %d", c.sheet, rw, col)
		return rw, col, ErrorValue("#VALUE!"), true
	}
	return rw, col, StringValue(s), true
}

func (c *xlsCursor) decodeBoolErr(data []byte) (int, int, CellValue, bool) {
	if len(data) < 8 {
		c.dec.warns.addf("sheet %q: short BOOLERR record", c.sheet)
		return 0, 0, CellValue{}, false
	}
	rw := int(binary.LittleEndian.Uint16(data[0:2]))
	col := int(binary.LittleEndian.Uint16(data[2:4]))
	value := data[6]
	isErr := data[7]
	if isErr != 0 {
		return rw, col, ErrorValue(biffErrorString(value)), true
	}
	return rw, col, BoolValue(value != 0), true
}

// decodeFormula interprets a cached formula result. Numeric results live in
// the 8-byte field directly; string, boolean, error and empty results are
// tagged by an 0xFFFF marker in the two high bytes.
func (c *xlsCursor) decodeFormula(data []byte) (rw, col int, v CellValue, wantString, ok bool) {
	if len(data) < 14 {
		c.dec.warns.addf("sheet %q: short FORMULA record", c.sheet)
		return 0, 0, CellValue{}, false, false
	}
	rw = int(binary.LittleEndian.Uint16(data[0:2]))
	col = int(binary.LittleEndian.Uint16(data[2:4]))
	ixfe := int(binary.LittleEndian.Uint16(data[4:6]))
	result := data[6:14]

	if binary.LittleEndian.Uint16(result[6:8]) == 0xFFFF {
		switch result[0] {
		case 0: // string result in a following STRING record
			return rw, col, StringValue(""), true, true
		case 1:
			return rw, col, BoolValue(result[2] != 0), false, true
		case 2:
			return rw, col, ErrorValue(biffErrorString(result[2])), false, true
		case 3:
			return rw, col, EmptyValue(), false, true
		}
		return rw, col, EmptyValue(), false, true
	}

	num := math.Float64frombits(binary.LittleEndian.Uint64(result))
	return rw, col, numericCell(num, c.cellClass(ixfe), c.dec.meta.datemode, c.sheet, c.dec.warns), false, true
}

func (c *xlsCursor) applyStringResult(data []byte) {
	if c.strDest < 0 || !c.haveRow || c.strDest >= len(c.cur) {
		return
	}
	var s string
	var ok bool
	if c.dec.biffVersion >= 80 {
		s, _, ok = unpackUnicodeString(data, 0, 2)
	} else {
		s, _, ok = unpackByteString(data, 0, 2, c.dec.codepage)
	}
	if ok {
		c.cur[c.strDest] = StringValue(s)
	}
	c.strDest = -1
}
