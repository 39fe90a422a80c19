package spread

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"
	"time"
)

// xlsxDecoder reads OOXML XML workbooks. The header phase parses the
// workbook part, its relationships, the shared-string part and the styles
// part; sheet rows are streamed from each worksheet part with a pull parser,
// so a sheet is never held in memory as a DOM.
type xlsxDecoder struct {
	archive *zipArchive
	meta    *workbookMetadata
	tabs    *sharedTables
	warns   *warningList

	// sheetParts holds each sheet's archive entry name, resolved through the
	// workbook relationships.
	sheetParts []string
}

func openXLSX(archive *zipArchive, warns *warningList) (decoder, error) {
	d := &xlsxDecoder{
		archive: archive,
		meta:    &workbookMetadata{},
		tabs:    newSharedTables(),
		warns:   warns,
	}

	rels, err := d.parseRelationships()
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

func (d *xlsxDecoder) metadata() *workbookMetadata { return d.meta }

func (d *xlsxDecoder) close() error {
	d.archive = nil
	return nil
}

func (d *xlsxDecoder) parseRelationships() (map[string]string, error) {
	return parseWorkbookRels(d.archive, "xl/_rels/workbook.xml.rels")
}

// parseWorkbookRels maps relationship ids to archive entry names. Targets
// come in three spellings: absolute ("/xl/..."), relative to the workbook
// part ("worksheets/..."), and occasionally already prefixed ("xl/...").
func parseWorkbookRels(archive *zipArchive, entry string) (map[string]string, error) {
	data, err := archive.readEntry(entry)
	if err != nil {
		return nil, err
	}

	rels := make(map[string]string)
	dec := xml.NewDecoder(strings.NewReader(string(data)))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &MalformedContainerError{Scope: "workbook", Reason: "bad relationships part", Err: err}
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Relationship" {
			continue
		}
		var id, target string
		for _, a := range se.Attr {
			switch a.Name.Local {
			case "Id":
				id = a.Value
			case "Target":
				target = a.Value
			}
		}
		if id == "" || target == "" {
			continue
		}
		rels[id] = resolveWorkbookTarget(target)
	}
	return rels, nil
}

func resolveWorkbookTarget(target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	if strings.HasPrefix(strings.ToLower(target), "xl/") {
		return target
	}
	return "xl/" + target
}

func (d *xlsxDecoder) parseWorkbookPart(rels map[string]string) error {
	data, err := d.archive.readEntry("xl/workbook.xml")
	if err != nil {
		return err
	}

	dec := xml.NewDecoder(strings.NewReader(string(data)))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &MalformedContainerError{Scope: "workbook", Reason: "bad workbook part", Err: err}
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "workbookPr":
			for _, a := range se.Attr {
				if a.Name.Local == "date1904" && xmlBool(a.Value) {
					d.meta.datemode = 1
				}
			}
		case "sheet":
			var name, relID, state string
			for _, a := range se.Attr {
				switch a.Name.Local {
				case "name":
					name = a.Value
				case "id": // r:id
					relID = a.Value
				case "state":
					state = a.Value
				}
			}
			part, ok := rels[relID]
			if !ok {
				d.warns.addf("sheet %q: no relationship %q, sheet skipped", name, relID)
				continue
			}
			vis := VisibilityVisible
			switch state {
			case "hidden":
				vis = VisibilityHidden
			case "veryHidden":
				vis = VisibilityVeryHidden
			}
			d.meta.sheets = append(d.meta.sheets, SheetMetadata{
				Name:       name,
				Index:      len(d.meta.sheets),
				Visibility: vis,
			})
			d.sheetParts = append(d.sheetParts, part)
		case "definedName":
			var name string
			for _, a := range se.Attr {
				if a.Name.Local == "name" {
					name = a.Value
				}
			}
			var ref strings.Builder
			if err := collectText(dec, se.Name.Local, &ref); err != nil {
				return &MalformedContainerError{Scope: "workbook", Reason: "bad definedName element", Err: err}
			}
			if name != "" {
				d.meta.definedNames = append(d.meta.definedNames, DefinedName{Name: name, Ref: ref.String()})
			}
		}
	}
	return nil
}

// parseSharedStrings loads the shared-string pool. Each si entry is the
// concatenation of its t runs; phonetic rPh runs are presentation-only and
// excluded.
func (d *xlsxDecoder) parseSharedStrings() error {
	if !d.archive.hasEntry("xl/sharedStrings.xml") {
		return nil
	}
	data, err := d.archive.readEntry("xl/sharedStrings.xml")
	if err != nil {
		return err
	}

	dec := xml.NewDecoder(strings.NewReader(string(data)))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &MalformedContainerError{Scope: "workbook", Reason: "bad shared-string part", Err: err}
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "si" {
			continue
		}
		s, err := readInlineString(dec, se.Name.Local)
		if err != nil {
			return &MalformedContainerError{Scope: "workbook", Reason: "bad shared-string entry", Err: err}
		}
		d.tabs.strings = append(d.tabs.strings, s)
	}
	return nil
}

func (d *xlsxDecoder) parseStyles() error {
	if !d.archive.hasEntry("xl/styles.xml") {
		return nil
	}
	data, err := d.archive.readEntry("xl/styles.xml")
	if err != nil {
		return err
	}

	dec := xml.NewDecoder(strings.NewReader(string(data)))
	var inCellXfs bool
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &MalformedContainerError{Scope: "workbook", Reason: "bad styles part", Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "numFmt":
				var id int
				var code string
				var haveID bool
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "numFmtId":
						if v, err := strconv.Atoi(a.Value); err == nil {
							id, haveID = v, true
						}
					case "formatCode":
						code = a.Value
					}
				}
				if haveID {
					d.tabs.addFormat(id, code)
				}
			case "cellXfs":
				inCellXfs = true
			case "xf":
				if !inCellXfs {
					continue
				}
				formatID := 0
				for _, a := range t.Attr {
					if a.Name.Local == "numFmtId" {
						if v, err := strconv.Atoi(a.Value); err == nil {
							formatID = v
						}
					}
				}
				d.tabs.xfFormats = append(d.tabs.xfFormats, formatID)
			}
		case xml.EndElement:
			if t.Name.Local == "cellXfs" {
				inCellXfs = false
			}
		}
	}
	return nil
}

// scanSheetDimensions reads each worksheet part only as far as its dimension
// element, which sits before the row data. Sheets without one keep a nil
// dimension.
func (d *xlsxDecoder) scanSheetDimensions() {
	for idx, part := range d.sheetParts {
		rc, err := d.archive.openEntry(part)
		if err != nil {
			continue
		}
		dec := xml.NewDecoder(rc)
	scan:
		for {
			tok, err := dec.Token()
			if err != nil {
				break
			}
			se, ok := tok.(xml.StartElement)
			if !ok {
				continue
			}
			switch se.Name.Local {
			case "dimension":
				for _, a := range se.Attr {
					if a.Name.Local == "ref" {
						if r, ok := parseRangeRef(a.Value); ok {
							d.meta.sheets[idx].Dimension = &Dimension{
								FirstRow: r.FirstRow, FirstCol: r.FirstCol,
								LastRow: r.LastRow, LastCol: r.LastCol,
							}
						}
					}
				}
				break scan
			case "sheetData":
				break scan
			}
		}
		rc.Close()
	}
}

// mergedRanges scans one worksheet part for its mergeCells section, which
// follows the row data.
func (d *xlsxDecoder) mergedRanges(idx int) ([]Range, error) {
	rc, err := d.archive.openEntry(d.sheetParts[idx])
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var out []Range
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, &MalformedContainerError{Scope: d.meta.sheets[idx].Name, Reason: "bad worksheet part", Err: err}
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "mergeCell" {
			continue
		}
		for _, a := range se.Attr {
			if a.Name.Local == "ref" {
				if r, ok := parseRangeRef(a.Value); ok {
					out = append(out, r)
				}
			}
		}
	}
	return out, nil
}

func (d *xlsxDecoder) openCursor(idx int) (SheetCursor, error) {
	rc, err := d.archive.openEntry(d.sheetParts[idx])
	if err != nil {
		return nil, err
	}
	return &xlsxCursor{
		dec:   d,
		rc:    rc,
		xr:    xml.NewDecoder(rc),
		sheet: d.meta.sheets[idx].Name,
		last:  -1,
	}, nil
}

// xlsxCursor streams one worksheet part row by row. Row and cell positions
// come from the explicit r attributes, so gaps in the source stay gaps in the
// output; elements without coordinates continue from the previous position.
type xlsxCursor struct {
	dec   *xlsxDecoder
	rc    io.ReadCloser
	xr    *xml.Decoder
	sheet string

	last   int // last row index delivered
	done   bool
	sticky error
}

func (c *xlsxCursor) Close() error {
	if c.done {
		return nil
	}
	c.done = true
	return c.rc.Close()
}

func (c *xlsxCursor) Next() (Row, error) {
	if c.sticky != nil {
		return Row{}, c.sticky
	}
	if c.done {
		return Row{}, ErrEndOfSheet
	}

	for {
		tok, err := c.xr.Token()
		if err == io.EOF {
			return c.finish(nil)
		}
		if err != nil {
			return c.finish(&SheetTruncatedError{Sheet: c.sheet, Row: c.last + 1, Reason: err.Error()})
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "row" {
				row, err := c.readRow(t)
				if err != nil {
					return c.finish(err)
				}
				c.last = row.Index
				return row, nil
			}
		case xml.EndElement:
			if t.Name.Local == "sheetData" {
				return c.finish(nil)
			}
		}
	}
}

func (c *xlsxCursor) finish(err error) (Row, error) {
	c.done = true
	c.rc.Close()
	if err != nil {
		c.sticky = err
		return Row{}, err
	}
	return Row{}, ErrEndOfSheet
}

func (c *xlsxCursor) readRow(row xml.StartElement) (Row, error) {
	rowIdx := c.last + 1
	for _, a := range row.Attr {
		if a.Name.Local == "r" {
			if v, err := strconv.Atoi(a.Value); err == nil && v >= 1 {
				rowIdx = v - 1
			}
		}
	}
	if rowIdx <= c.last {
		c.dec.warns.addf("sheet %q: out-of-order row %d", c.sheet, rowIdx+1)
		rowIdx = c.last + 1
	}

	var cells []CellValue
	nextCol := 0
	for {
		tok, err := c.xr.Token()
		if err != nil {
			return Row{}, &SheetTruncatedError{Sheet: c.sheet, Row: rowIdx, Reason: "row element truncated"}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "c" {
				if err := c.xr.Skip(); err != nil {
					return Row{}, &SheetTruncatedError{Sheet: c.sheet, Row: rowIdx, Reason: "row element truncated"}
				}
				continue
			}
			col, v, err := c.readCell(t, rowIdx, nextCol)
			if err != nil {
				return Row{}, err
			}
			for len(cells) <= col {
				cells = append(cells, EmptyValue())
			}
			cells[col] = v
			nextCol = col + 1
		case xml.EndElement:
			if t.Name.Local == "row" {
				return Row{Index: rowIdx, Cells: trimRow(cells)}, nil
			}
		}
	}
}

// readCell decodes one c element. The t attribute selects the value space:
// shared string, formula string, inline string, boolean, error, ISO date, or
// (the default) a number interpreted through the cell's style.
func (c *xlsxCursor) readCell(cell xml.StartElement, rowIdx, defaultCol int) (int, CellValue, error) {
	col := defaultCol
	var typ string
	styleIdx := -1
	for _, a := range cell.Attr {
		switch a.Name.Local {
		case "r":
			if cc, _, ok := parseCellRef(a.Value); ok {
				col = cc
			}
		case "t":
			typ = a.Value
		case "s":
			if v, err := strconv.Atoi(a.Value); err == nil {
				styleIdx = v
			}
		}
	}

	var raw strings.Builder
	var inline string
	var haveValue bool
	for {
		tok, err := c.xr.Token()
		if err != nil {
			return col, CellValue{}, &SheetTruncatedError{Sheet: c.sheet, Row: rowIdx, Reason: "cell element truncated"}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "v":
				haveValue = true
				if err := collectText(c.xr, "v", &raw); err != nil {
					return col, CellValue{}, &SheetTruncatedError{Sheet: c.sheet, Row: rowIdx, Reason: "cell value truncated"}
				}
			case "is":
				s, err := readInlineString(c.xr, "is")
				if err != nil {
					return col, CellValue{}, &SheetTruncatedError{Sheet: c.sheet, Row: rowIdx, Reason: "inline string truncated"}
				}
				inline = s
				haveValue = true
			default:
				if err := c.xr.Skip(); err != nil {
					return col, CellValue{}, &SheetTruncatedError{Sheet: c.sheet, Row: rowIdx, Reason: "cell element truncated"}
				}
			}
		case xml.EndElement:
			if t.Name.Local == "c" {
				return col, c.cellValue(typ, raw.String(), inline, haveValue, styleIdx, rowIdx, col), nil
			}
		}
	}
}

func (c *xlsxCursor) cellValue(typ, raw, inline string, haveValue bool, styleIdx, rowIdx, col int) CellValue {
	if !haveValue {
		return EmptyValue()
	}
	switch typ {
	case "s":
		idx, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			c.dec.warns.addf("sheet %q: bad shared-string reference %q at row %d, col %d", c.sheet, raw, rowIdx, col)
			return ErrorValue("#REF!")
		}
		s, ok := c.dec.tabs.sharedString(idx)
		if !ok {
			c.dec.warns.addf("sheet %q: shared-string index %d out of range at row %d, col %d", c.sheet, idx, rowIdx, col)
			return ErrorValue("#REF!")
		}
		return StringValue(s)
	case "str":
		return StringValue(raw)
	case "inlineStr":
		return StringValue(inline)
	case "b":
		return BoolValue(strings.TrimSpace(raw) != "0")
	case "e":
		return ErrorValue(strings.TrimSpace(raw))
	case "d":
		if t, ok := parseISODateTime(strings.TrimSpace(raw)); ok {
			return DateTimeValue(t)
		}
		c.dec.warns.addf("sheet %q: bad ISO date %q at row %d, col %d", c.sheet, raw, rowIdx, col)
		return ErrorValue("#VALUE!")
	}

	num, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		c.dec.warns.addf("sheet %q: bad numeric value %q at row %d, col %d", c.sheet, raw, rowIdx, col)
		return ErrorValue("#VALUE!")
	}
	class := FormatGeneral
	if styleIdx >= 0 {
		if cl, ok := c.dec.tabs.classForXF(styleIdx); ok {
			class = cl
		}
	}
	return numericCell(num, class, c.dec.meta.datemode, c.sheet, c.dec.warns)
}

// collectText appends the character data under the current element until its
// matching end tag, descending into nested elements.
func collectText(dec *xml.Decoder, name string, out *strings.Builder) error {
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.CharData:
			out.Write(t)
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 && t.Name.Local == name {
				return nil
			}
			depth--
		}
	}
}

// readInlineString concatenates the t runs under an si or is element,
// skipping phonetic rPh blocks.
func readInlineString(dec *xml.Decoder, name string) (string, error) {
	var out strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				if err := collectText(dec, "t", &out); err != nil {
					return "", err
				}
			case "rPh", "phoneticPr":
				if err := dec.Skip(); err != nil {
					return "", err
				}
			}
		case xml.EndElement:
			if t.Name.Local == name {
				return out.String(), nil
			}
		}
	}
}

func xmlBool(v string) bool {
	return v == "1" || v == "true"
}

// parseCellRef splits an A1-style reference into zero-based column and row.
func parseCellRef(ref string) (col, row int, ok bool) {
	i := 0
	for i < len(ref) {
		ch := ref[i]
		if ch >= 'A' && ch <= 'Z' {
			col = col*26 + int(ch-'A') + 1
		} else if ch >= 'a' && ch <= 'z' {
			col = col*26 + int(ch-'a') + 1
		} else {
			break
		}
		i++
	}
	if i == 0 || i == len(ref) {
		return 0, 0, false
	}
	n, err := strconv.Atoi(ref[i:])
	if err != nil || n < 1 {
		return 0, 0, false
	}
	return col - 1, n - 1, true
}

// parseRangeRef parses "A1:C3" (or a single "B2") into a zero-based inclusive
// range.
func parseRangeRef(ref string) (Range, bool) {
	first := ref
	last := ref
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		first, last = ref[:i], ref[i+1:]
	}
	c1, r1, ok1 := parseCellRef(first)
	c2, r2, ok2 := parseCellRef(last)
	if !ok1 || !ok2 {
		return Range{}, false
	}
	return Range{FirstRow: r1, FirstCol: c1, LastRow: r2, LastCol: c2}, true
}

var isoDateTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	time.RFC3339,
}

func parseISODateTime(s string) (time.Time, bool) {
	for _, layout := range isoDateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
