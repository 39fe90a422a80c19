package spread

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"
	"time"
)

// odsDecoder reads OpenDocument spreadsheets. Everything lives in a single
// content.xml entry: the header phase collects table names, visibility styles
// and named ranges in one pass, and each cursor re-parses the entry from the
// start, skipping ahead to its table. Cells are typed by the office:value-type
// attribute rather than through a format table, so the shared-table machinery
// of the Excel-family formats has no counterpart here.
type odsDecoder struct {
	content []byte
	meta    *workbookMetadata
	warns   *warningList
}

func openODS(archive *zipArchive, warns *warningList) (decoder, error) {
	content, err := archive.readEntry("content.xml")
	if err != nil {
		return nil, err
	}
	d := &odsDecoder{
		content: content,
		meta:    &workbookMetadata{},
		warns:   warns,
	}
	if err := d.parseHeader(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *odsDecoder) metadata() *workbookMetadata { return d.meta }

func (d *odsDecoder) close() error {
	d.content = nil
	return nil
}

// parseHeader walks content.xml once: automatic styles first (they precede
// the body and carry the display flag that hides tables), then the table
// directory and named ranges.
func (d *odsDecoder) parseHeader() error {
	hiddenStyles := make(map[string]bool)

	dec := xml.NewDecoder(bytes.NewReader(d.content))
	var curStyle string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &MalformedContainerError{Scope: "workbook", Reason: "bad content document", Err: err}
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "style":
			curStyle = attrLocal(se, "name")
		case "table-properties":
			if curStyle != "" && attrLocal(se, "display") == "false" {
				hiddenStyles[curStyle] = true
			}
		case "table":
			name := attrLocal(se, "name")
			vis := VisibilityVisible
			if hiddenStyles[attrLocal(se, "style-name")] {
				vis = VisibilityHidden
			}
			d.meta.sheets = append(d.meta.sheets, SheetMetadata{
				Name:       name,
				Index:      len(d.meta.sheets),
				Visibility: vis,
			})
			if err := dec.Skip(); err != nil {
				return &MalformedContainerError{Scope: name, Reason: "bad table element", Err: err}
			}
		case "named-range":
			name := attrLocal(se, "name")
			ref := attrLocal(se, "cell-range-address")
			if name != "" {
				d.meta.definedNames = append(d.meta.definedNames, DefinedName{Name: name, Ref: ref})
			}
		case "named-expression":
			name := attrLocal(se, "name")
			ref := attrLocal(se, "expression")
			if name != "" {
				d.meta.definedNames = append(d.meta.definedNames, DefinedName{Name: name, Ref: ref})
			}
		}
	}
	return nil
}

func attrLocal(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// seekTable positions a fresh parser at the idx-th table element's start tag.
func (d *odsDecoder) seekTable(idx int) (*xml.Decoder, error) {
	dec := xml.NewDecoder(bytes.NewReader(d.content))
	seen := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, &MalformedContainerError{Scope: "workbook", Reason: "table element missing", Err: err}
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "table" {
			continue
		}
		if seen == idx {
			return dec, nil
		}
		seen++
		if err := dec.Skip(); err != nil {
			return nil, &MalformedContainerError{Scope: "workbook", Reason: "bad table element", Err: err}
		}
	}
}

func (d *odsDecoder) openCursor(idx int) (SheetCursor, error) {
	dec, err := d.seekTable(idx)
	if err != nil {
		return nil, err
	}
	return &odsCursor{
		dec:   d,
		xr:    dec,
		sheet: d.meta.sheets[idx].Name,
	}, nil
}

// mergedRanges re-parses the table, collecting the spans declared on its
// cells.
func (d *odsDecoder) mergedRanges(idx int) ([]Range, error) {
	dec, err := d.seekTable(idx)
	if err != nil {
		return nil, err
	}

	var out []Range
	rowIdx := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return out, &MalformedContainerError{Scope: d.meta.sheets[idx].Name, Reason: "bad table element", Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "table-row":
				repeat := attrInt(t, "number-rows-repeated", 1)
				spans := scanRowSpans(dec, rowIdx)
				out = append(out, spans...)
				rowIdx += repeat
			}
		case xml.EndElement:
			if t.Name.Local == "table" {
				return out, nil
			}
		}
	}
}

func scanRowSpans(dec *xml.Decoder, rowIdx int) []Range {
	var out []Range
	col := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "table-cell":
				repeat := attrInt(t, "number-columns-repeated", 1)
				rowSpan := attrInt(t, "number-rows-spanned", 1)
				colSpan := attrInt(t, "number-columns-spanned", 1)
				if rowSpan > 1 || colSpan > 1 {
					out = append(out, Range{
						FirstRow: rowIdx, FirstCol: col,
						LastRow: rowIdx + rowSpan - 1, LastCol: col + colSpan - 1,
					})
				}
				col += repeat
				dec.Skip()
			case "covered-table-cell":
				col += attrInt(t, "number-columns-repeated", 1)
				dec.Skip()
			}
		case xml.EndElement:
			if t.Name.Local == "table-row" {
				return out
			}
		}
	}
}

func attrInt(se xml.StartElement, name string, def int) int {
	v := attrLocal(se, name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

// odsCursor streams one table's rows. Row and column repetition counts are
// expanded lazily: a repeated content row is re-emitted on successive pulls,
// and runs of empty rows are buffered as a counter and only materialized when
// a later row has content. Trailing empty rows, a fixture of files saved by
// full-grid editors, are therefore dropped.
type odsCursor struct {
	dec   *odsDecoder
	xr    *xml.Decoder
	sheet string

	nextIdx     int // index of the next row to emit
	emptiesLeft int
	queued      []CellValue
	queuedLeft  int
	pendingGap  int // empty rows seen since the last content row
	done        bool
	sticky      error
}

func (c *odsCursor) Close() error {
	c.done = true
	return nil
}

func (c *odsCursor) Next() (Row, error) {
	if c.sticky != nil {
		return Row{}, c.sticky
	}
	if c.done {
		return Row{}, ErrEndOfSheet
	}

	for {
		if c.emptiesLeft > 0 {
			c.emptiesLeft--
			row := Row{Index: c.nextIdx, Cells: []CellValue{}}
			c.nextIdx++
			return row, nil
		}
		if c.queuedLeft > 0 {
			c.queuedLeft--
			row := Row{Index: c.nextIdx, Cells: append([]CellValue(nil), c.queued...)}
			c.nextIdx++
			return row, nil
		}

		repeat, cells, err := c.readTableRow()
		if err == io.EOF {
			// Any buffered empty rows die with the table.
			c.done = true
			return Row{}, ErrEndOfSheet
		}
		if err != nil {
			c.done = true
			c.sticky = err
			return Row{}, err
		}
		if len(cells) == 0 {
			c.pendingGap += repeat
			continue
		}
		c.emptiesLeft = c.pendingGap
		c.pendingGap = 0
		c.queued = cells
		c.queuedLeft = repeat
	}
}

// readTableRow parses the next table-row element. io.EOF signals the end of
// the table.
func (c *odsCursor) readTableRow() (repeat int, cells []CellValue, err error) {
	for {
		tok, err := c.xr.Token()
		if err != nil {
			return 0, nil, &SheetTruncatedError{Sheet: c.sheet, Row: c.nextIdx, Reason: "content document truncated"}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "table-row":
				repeat = attrInt(t, "number-rows-repeated", 1)
				cells, err := c.readRowCells()
				if err != nil {
					return 0, nil, err
				}
				return repeat, cells, nil
			case "table-header-rows", "table-rows", "table-row-group":
				// Transparent grouping wrappers; their rows count normally.
			default:
				if err := c.xr.Skip(); err != nil {
					return 0, nil, &SheetTruncatedError{Sheet: c.sheet, Row: c.nextIdx, Reason: "content document truncated"}
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "table":
				return 0, nil, io.EOF
			}
		}
	}
}

// readRowCells expands one row's cells. Empty repeated cells advance the
// column position without materializing; the gap is backfilled only when a
// later cell in the row has content, so trailing full-width empty runs cost
// nothing.
func (c *odsCursor) readRowCells() ([]CellValue, error) {
	var cells []CellValue
	col := 0
	for {
		tok, err := c.xr.Token()
		if err != nil {
			return nil, &SheetTruncatedError{Sheet: c.sheet, Row: c.nextIdx, Reason: "table row truncated"}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "table-cell":
				repeat := attrInt(t, "number-columns-repeated", 1)
				v, err := c.readCellValue(t)
				if err != nil {
					return nil, err
				}
				if v.IsEmpty() {
					col += repeat
					continue
				}
				for len(cells) < col {
					cells = append(cells, EmptyValue())
				}
				for i := 0; i < repeat; i++ {
					cells = append(cells, v)
				}
				col += repeat
			case "covered-table-cell":
				col += attrInt(t, "number-columns-repeated", 1)
				if err := c.xr.Skip(); err != nil {
					return nil, &SheetTruncatedError{Sheet: c.sheet, Row: c.nextIdx, Reason: "table row truncated"}
				}
			default:
				if err := c.xr.Skip(); err != nil {
					return nil, &SheetTruncatedError{Sheet: c.sheet, Row: c.nextIdx, Reason: "table row truncated"}
				}
			}
		case xml.EndElement:
			if t.Name.Local == "table-row" {
				return cells, nil
			}
		}
	}
}

// readCellValue types one cell from its office:value-type attribute and
// consumes the element. String cells take their content from the text body;
// every other type carries its canonical value in an attribute and the body
// is only presentation.
func (c *odsCursor) readCellValue(cell xml.StartElement) (CellValue, error) {
	valueType := attrLocal(cell, "value-type")

	var v CellValue
	bodyWanted := false
	switch valueType {
	case "float", "percentage", "currency":
		raw := attrLocal(cell, "value")
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.dec.warns.addf("sheet %q: bad numeric value %q at row %d", c.sheet, raw, c.nextIdx)
			v = ErrorValue("#VALUE!")
		} else {
			v = FloatValue(f)
		}
	case "boolean":
		v = BoolValue(attrLocal(cell, "boolean-value") == "true")
	case "date":
		raw := attrLocal(cell, "date-value")
		if t, ok := parseISODateTime(raw); ok {
			v = DateTimeValue(t)
		} else {
			c.dec.warns.addf("sheet %q: bad date value %q at row %d", c.sheet, raw, c.nextIdx)
			v = ErrorValue("#VALUE!")
		}
	case "time":
		raw := attrLocal(cell, "time-value")
		if dur, ok := parseISODuration(raw); ok {
			v = DurationValue(dur)
		} else {
			c.dec.warns.addf("sheet %q: bad time value %q at row %d", c.sheet, raw, c.nextIdx)
			v = ErrorValue("#VALUE!")
		}
	case "string":
		bodyWanted = true
	default:
		v = EmptyValue()
	}

	body, err := c.readCellBody()
	if err != nil {
		return CellValue{}, err
	}
	if bodyWanted {
		// The string-value attribute wins over the body when present.
		if sv := attrLocal(cell, "string-value"); sv != "" {
			return StringValue(sv), nil
		}
		return StringValue(body), nil
	}
	return v, nil
}

// readCellBody collects the cell's text content: paragraphs joined with
// newlines, with tab and space elements expanded.
func (c *odsCursor) readCellBody() (string, error) {
	var out strings.Builder
	paragraphs := 0
	depth := 0
	for {
		tok, err := c.xr.Token()
		if err != nil {
			return "", &SheetTruncatedError{Sheet: c.sheet, Row: c.nextIdx, Reason: "cell content truncated"}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				if paragraphs > 0 {
					out.WriteByte('\n')
				}
				paragraphs++
				depth++
			case "s":
				n := attrInt(t, "c", 1)
				out.WriteString(strings.Repeat(" ", n))
				depth++
			case "tab":
				out.WriteByte('\t')
				depth++
			case "annotation":
				// Comments are not cell content.
				if err := c.xr.Skip(); err != nil {
					return "", &SheetTruncatedError{Sheet: c.sheet, Row: c.nextIdx, Reason: "cell content truncated"}
				}
			default:
				depth++
			}
		case xml.CharData:
			if depth > 0 {
				out.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == "table-cell" {
				return out.String(), nil
			}
			if depth > 0 {
				depth--
			}
		}
	}
}

// parseISODuration parses the ISO 8601 duration form used by time cells:
// PT13H30M5.5S, optionally with a leading day component.
func parseISODuration(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") {
		return 0, false
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := ""
	for _, ch := range s {
		switch {
		case ch >= '0' && ch <= '9' || ch == '.':
			num += string(ch)
		case ch == 'T':
			inTime = true
		default:
			if num == "" {
				return 0, false
			}
			f, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, false
			}
			num = ""
			switch {
			case ch == 'D' && !inTime:
				total += time.Duration(f * 24 * float64(time.Hour))
			case ch == 'H' && inTime:
				total += time.Duration(f * float64(time.Hour))
			case ch == 'M' && inTime:
				total += time.Duration(f * float64(time.Minute))
			case ch == 'S' && inTime:
				total += time.Duration(f * float64(time.Second))
			default:
				return 0, false
			}
		}
	}
	if num != "" {
		return 0, false
	}
	if neg {
		total = -total
	}
	return total, true
}
