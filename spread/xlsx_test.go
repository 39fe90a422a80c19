package spread

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const xlsxRelsFixture = `<?xml version="1.0" encoding="UTF-8"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet1.xml"/>
  <Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="/xl/worksheets/sheet2.xml"/>
</Relationships>`

const xlsxWorkbookFixture = `<?xml version="1.0" encoding="UTF-8"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
  <workbookPr/>
  <sheets>
    <sheet name="Data" sheetId="1" r:id="rId1"/>
    <sheet name="Secrets" sheetId="2" state="veryHidden" r:id="rId2"/>
  </sheets>
  <definedNames>
    <definedName name="header">Data!$A$1:$C$1</definedName>
  </definedNames>
</workbook>`

const xlsxSharedStringsFixture = `<?xml version="1.0" encoding="UTF-8"?>
<sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" count="3" uniqueCount="2">
  <si><t>hello</t></si>
  <si><r><t>wor</t></r><r><t>ld</t></r></si>
</sst>`

const xlsxStylesFixture = `<?xml version="1.0" encoding="UTF-8"?>
<styleSheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <numFmts count="1">
    <numFmt numFmtId="164" formatCode="yyyy\-mm\-dd"/>
  </numFmts>
  <cellXfs count="3">
    <xf numFmtId="0"/>
    <xf numFmtId="164"/>
    <xf numFmtId="46"/>
  </cellXfs>
</styleSheet>`

const xlsxSheet1Fixture = `<?xml version="1.0" encoding="UTF-8"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <dimension ref="A1:D3"/>
  <sheetData>
    <row r="1">
      <c r="A1" t="s"><v>0</v></c>
      <c r="B1"><v>42</v></c>
      <c r="D1" s="1"><v>44197</v></c>
    </row>
    <row r="3">
      <c r="A3" t="b"><v>1</v></c>
      <c r="B3" t="e"><v>#DIV/0!</v></c>
      <c r="C3" t="inlineStr"><is><t>inline</t></is></c>
      <c r="D3" t="str"><v>computed</v></c>
      <c r="E3" s="2"><v>1.5</v></c>
    </row>
  </sheetData>
  <mergeCells count="1">
    <mergeCell ref="A1:B2"/>
  </mergeCells>
</worksheet>`

const xlsxSheet2Fixture = `<?xml version="1.0" encoding="UTF-8"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <sheetData>
    <row r="1">
      <c r="A1" t="s"><v>99</v></c>
      <c r="B1" t="s"><v>1</v></c>
    </row>
  </sheetData>
</worksheet>`

func xlsxFixture(t *testing.T) []byte {
	return buildZip(t, map[string]string{
		"[Content_Types].xml":        `<?xml version="1.0"?><Types/>`,
		"xl/workbook.xml":            xlsxWorkbookFixture,
		"xl/_rels/workbook.xml.rels": xlsxRelsFixture,
		"xl/sharedStrings.xml":       xlsxSharedStringsFixture,
		"xl/styles.xml":              xlsxStylesFixture,
		"xl/worksheets/sheet1.xml":   xlsxSheet1Fixture,
		"xl/worksheets/sheet2.xml":   xlsxSheet2Fixture,
	})
}

func TestXLSXMetadata(t *testing.T) {
	wb, err := OpenBytes(xlsxFixture(t))
	require.NoError(t, err)
	defer wb.Close()

	require.Equal(t, FormatXLSX, wb.Format())
	require.Equal(t, []string{"Data", "Secrets"}, wb.SheetNames())
	require.Equal(t, 2, wb.SheetCount())
	require.Equal(t, 0, wb.DateMode())

	meta, err := wb.SheetMetadata("Data")
	require.NoError(t, err)
	require.Equal(t, 0, meta.Index)
	require.Equal(t, VisibilityVisible, meta.Visibility)
	require.NotNil(t, meta.Dimension)
	require.Equal(t, &Dimension{FirstRow: 0, FirstCol: 0, LastRow: 2, LastCol: 3}, meta.Dimension)

	hidden, err := wb.SheetMetadataAt(1)
	require.NoError(t, err)
	require.Equal(t, VisibilityVeryHidden, hidden.Visibility)
	require.Nil(t, hidden.Dimension)

	require.Equal(t, map[string]string{"header": "Data!$A$1:$C$1"}, wb.DefinedNames())
}

// Metadata is a header-phase snapshot: pulling rows must not change what a
// later lookup reports.
func TestXLSXMetadataStableAcrossReads(t *testing.T) {
	wb, err := OpenBytes(xlsxFixture(t))
	require.NoError(t, err)
	defer wb.Close()

	before, err := wb.SheetMetadata("Data")
	require.NoError(t, err)

	cur, err := wb.OpenSheet("Data")
	require.NoError(t, err)
	collectRows(t, cur)

	after, err := wb.SheetMetadata("Data")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestXLSXRows(t *testing.T) {
	wb, err := OpenBytes(xlsxFixture(t))
	require.NoError(t, err)
	defer wb.Close()

	cur, err := wb.OpenSheet("Data")
	require.NoError(t, err)
	defer cur.Close()

	rows := collectRows(t, cur)
	require.Len(t, rows, 2)

	// Row 0: shared string, integral number, a column gap, then a dated cell.
	require.Equal(t, 0, rows[0].Index)
	require.Equal(t, []CellValue{
		StringValue("hello"),
		IntValue(42),
		EmptyValue(),
		DateTimeValue(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)),
	}, rows[0].Cells)

	// Row 2: the row gap from the source is preserved in the index.
	require.Equal(t, 2, rows[1].Index)
	require.Equal(t, []CellValue{
		BoolValue(true),
		ErrorValue("#DIV/0!"),
		StringValue("inline"),
		StringValue("computed"),
		DurationValue(36 * time.Hour), // builtin format 46 is elapsed time
	}, rows[1].Cells)

	// Exhausted cursors keep reporting the end.
	_, err = cur.Next()
	require.ErrorIs(t, err, ErrEndOfSheet)
	_, err = cur.Next()
	require.ErrorIs(t, err, ErrEndOfSheet)
}

func TestXLSXBadSharedStringIndex(t *testing.T) {
	wb, err := OpenBytes(xlsxFixture(t))
	require.NoError(t, err)
	defer wb.Close()

	cur, err := wb.OpenSheetAt(1)
	require.NoError(t, err)
	rows := collectRows(t, cur)
	require.Len(t, rows, 1)
	require.Equal(t, []CellValue{ErrorValue("#REF!"), StringValue("world")}, rows[0].Cells)
	require.NotEmpty(t, wb.Warnings())
}

func TestXLSXMergedRanges(t *testing.T) {
	wb, err := OpenBytes(xlsxFixture(t))
	require.NoError(t, err)
	defer wb.Close()

	ranges, err := wb.MergedRanges("Data")
	require.NoError(t, err)
	require.Equal(t, []Range{{FirstRow: 0, FirstCol: 0, LastRow: 1, LastCol: 1}}, ranges)

	// Second lookup hits the cache.
	again, err := wb.MergedRanges("Data")
	require.NoError(t, err)
	require.Equal(t, ranges, again)
}

func TestXLSXSheetNotFound(t *testing.T) {
	wb, err := OpenBytes(xlsxFixture(t))
	require.NoError(t, err)
	defer wb.Close()

	_, err = wb.OpenSheet("Nope")
	var nf *SheetNotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "Nope", nf.Name)

	_, err = wb.OpenSheetAt(5)
	require.ErrorAs(t, err, &nf)
	require.Equal(t, 5, nf.Index)
}

func TestXLSXIndependentCursors(t *testing.T) {
	wb, err := OpenBytes(xlsxFixture(t))
	require.NoError(t, err)
	defer wb.Close()

	c1, err := wb.OpenSheet("Data")
	require.NoError(t, err)
	c2, err := wb.OpenSheet("Data")
	require.NoError(t, err)

	r1, err := c1.Next()
	require.NoError(t, err)
	r2, err := c2.Next()
	require.NoError(t, err)
	require.Equal(t, r1, r2)
	require.NoError(t, c1.Close())
	require.NoError(t, c2.Close())
}

func TestParseCellRef(t *testing.T) {
	tests := []struct {
		ref string
		col int
		row int
		ok  bool
	}{
		{"A1", 0, 0, true},
		{"B3", 1, 2, true},
		{"Z10", 25, 9, true},
		{"AA1", 26, 0, true},
		{"AMJ1048576", 1023, 1048575, true},
		{"", 0, 0, false},
		{"12", 0, 0, false},
		{"A", 0, 0, false},
		{"A0", 0, 0, false},
	}
	for _, tt := range tests {
		col, row, ok := parseCellRef(tt.ref)
		if col != tt.col || row != tt.row || ok != tt.ok {
			t.Errorf("parseCellRef(%q) = %d, %d, %v, want %d, %d, %v", tt.ref, col, row, ok, tt.col, tt.row, tt.ok)
		}
	}
}

func TestParseRangeRef(t *testing.T) {
	r, ok := parseRangeRef("A1:C3")
	if !ok || r != (Range{FirstRow: 0, FirstCol: 0, LastRow: 2, LastCol: 2}) {
		t.Errorf("parseRangeRef(A1:C3) = %+v, %v", r, ok)
	}
	r, ok = parseRangeRef("B2")
	if !ok || r != (Range{FirstRow: 1, FirstCol: 1, LastRow: 1, LastCol: 1}) {
		t.Errorf("parseRangeRef(B2) = %+v, %v", r, ok)
	}
	if _, ok := parseRangeRef("nope"); ok {
		t.Error("parseRangeRef should reject garbage")
	}
}

func TestXLSXTruncatedSheet(t *testing.T) {
	entries := map[string]string{
		"xl/workbook.xml":            `<workbook xmlns:r="x"><sheets><sheet name="S" r:id="rId1"/></sheets></workbook>`,
		"xl/_rels/workbook.xml.rels": `<Relationships><Relationship Id="rId1" Target="worksheets/sheet1.xml"/></Relationships>`,
		"xl/worksheets/sheet1.xml":   `<worksheet><sheetData><row r="1"><c r="A1"><v>1</v></c></row><row r="2"><c r="A2"><v>`,
	}
	wb, err := OpenBytes(buildZip(t, entries))
	require.NoError(t, err)
	defer wb.Close()

	cur, err := wb.OpenSheet("S")
	require.NoError(t, err)

	row, err := cur.Next()
	require.NoError(t, err)
	require.Equal(t, 0, row.Index)

	_, err = cur.Next()
	var trunc *SheetTruncatedError
	require.True(t, errors.As(err, &trunc))
	require.Equal(t, "S", trunc.Sheet)

	// The truncation error is sticky.
	_, err = cur.Next()
	require.True(t, errors.As(err, &trunc))
}
