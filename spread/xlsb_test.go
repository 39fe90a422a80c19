package spread

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// b12Builder assembles a binary-part record stream for fixtures.
type b12Builder struct {
	buf bytes.Buffer
}

func (b *b12Builder) varint(v int) {
	for {
		c := byte(v & 0x7F)
		v >>= 7
		if v == 0 {
			b.buf.WriteByte(c)
			return
		}
		b.buf.WriteByte(c | 0x80)
	}
}

func (b *b12Builder) rec(id int, payload []byte) {
	b.varint(id)
	b.varint(len(payload))
	b.buf.Write(payload)
}

func (b *b12Builder) bytes() []byte { return b.buf.Bytes() }

type b12Payload struct {
	buf bytes.Buffer
}

func (p *b12Payload) u8(v byte) *b12Payload {
	p.buf.WriteByte(v)
	return p
}

func (p *b12Payload) u16(v uint16) *b12Payload {
	var w [2]byte
	binary.LittleEndian.PutUint16(w[:], v)
	p.buf.Write(w[:])
	return p
}

func (p *b12Payload) u32(v uint32) *b12Payload {
	var w [4]byte
	binary.LittleEndian.PutUint32(w[:], v)
	p.buf.Write(w[:])
	return p
}

func (p *b12Payload) f64(v float64) *b12Payload {
	var w [8]byte
	binary.LittleEndian.PutUint64(w[:], math.Float64bits(v))
	p.buf.Write(w[:])
	return p
}

func (p *b12Payload) wstr(s string) *b12Payload {
	runes := []rune(s)
	p.u32(uint32(len(runes)))
	for _, r := range runes {
		p.u16(uint16(r))
	}
	return p
}

func (p *b12Payload) bytes() []byte { return p.buf.Bytes() }

func xlsbWorkbookPart() []byte {
	var b b12Builder
	b.rec(b12WorkbookPr, (&b12Payload{}).u8(0).bytes())
	b.rec(b12Sheet, (&b12Payload{}).u32(0).u32(1).wstr("rId1").wstr("Data").bytes())
	b.rec(b12Sheet, (&b12Payload{}).u32(2).u32(2).wstr("rId2").wstr("Broken").bytes())
	b.rec(b12SheetsEnd, nil)
	b.rec(b12DefinedName, (&b12Payload{}).u32(0).u8(0).wstr("header").bytes())
	b.rec(b12WorkbookEnd, nil)
	return b.bytes()
}

func xlsbSharedStringsPart() []byte {
	var b b12Builder
	b.rec(b12SstBegin, (&b12Payload{}).u32(2).u32(2).bytes())
	b.rec(b12SstItem, (&b12Payload{}).u8(0).wstr("alpha").bytes())
	b.rec(b12SstItem, (&b12Payload{}).u8(0).wstr("beta").bytes())
	return b.bytes()
}

func xlsbStylesPart() []byte {
	var b b12Builder
	b.rec(b12Fmt, (&b12Payload{}).u16(164).wstr("yyyy-mm-dd").bytes())
	b.rec(b12CellXfsBegin, (&b12Payload{}).u32(2).bytes())
	b.rec(b12XF, (&b12Payload{}).u16(0xFFFF).u16(0).u16(0).bytes())
	b.rec(b12XF, (&b12Payload{}).u16(0xFFFF).u16(164).u16(0).bytes())
	b.rec(b12CellXfsEnd, nil)
	return b.bytes()
}

func xlsbSheet1Part() []byte {
	rk42 := uint32(42<<2) | 2

	var b b12Builder
	b.rec(b12Dimension, (&b12Payload{}).u32(0).u32(1).u32(0).u32(3).bytes())
	b.rec(b12SheetDataBegin, nil)
	b.rec(b12Row, (&b12Payload{}).u32(0).bytes())
	b.rec(b12CellRK, (&b12Payload{}).u32(0).u32(0).u32(rk42).bytes())
	b.rec(b12CellFloat, (&b12Payload{}).u32(1).u32(0).f64(1.5).bytes())
	b.rec(b12CellSharedStr, (&b12Payload{}).u32(2).u32(0).u32(0).bytes())
	b.rec(b12CellBool, (&b12Payload{}).u32(3).u32(0).u8(1).bytes())
	b.rec(b12Row, (&b12Payload{}).u32(2).bytes())
	b.rec(b12CellFloat, (&b12Payload{}).u32(0).u32(1).f64(44197).bytes())
	b.rec(b12CellError, (&b12Payload{}).u32(1).u32(0).u8(0x07).bytes())
	b.rec(b12CellString, (&b12Payload{}).u32(2).u32(0).wstr("inline").bytes())
	b.rec(b12CellSharedStr, (&b12Payload{}).u32(3).u32(0).u32(9).bytes()) // bad index
	b.rec(b12SheetDataEnd, nil)
	b.rec(b12MergeCell, (&b12Payload{}).u32(0).u32(1).u32(0).u32(0).bytes())
	return b.bytes()
}

// xlsbBrokenSheetPart yields one good row, then a record whose declared
// length overruns the part.
func xlsbBrokenSheetPart() []byte {
	var b b12Builder
	b.rec(b12SheetDataBegin, nil)
	b.rec(b12Row, (&b12Payload{}).u32(0).bytes())
	b.rec(b12CellFloat, (&b12Payload{}).u32(0).u32(0).f64(7).bytes())
	b.varint(b12CellFloat)
	b.varint(64) // promised payload, absent
	b.buf.Write([]byte{1, 2, 3})
	return b.bytes()
}

const xlsbRelsFixture = `<?xml version="1.0" encoding="UTF-8"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.microsoft.com/office/2006/relationships/xlBinaryWorksheet" Target="worksheets/sheet1.bin"/>
  <Relationship Id="rId2" Type="http://schemas.microsoft.com/office/2006/relationships/xlBinaryWorksheet" Target="worksheets/sheet2.bin"/>
</Relationships>`

func xlsbFixture(t *testing.T) []byte {
	return buildZip(t, map[string]string{
		"xl/workbook.bin":            string(xlsbWorkbookPart()),
		"xl/_rels/workbook.bin.rels": xlsbRelsFixture,
		"xl/sharedStrings.bin":       string(xlsbSharedStringsPart()),
		"xl/styles.bin":              string(xlsbStylesPart()),
		"xl/worksheets/sheet1.bin":   string(xlsbSheet1Part()),
		"xl/worksheets/sheet2.bin":   string(xlsbBrokenSheetPart()),
	})
}

func TestXLSBMetadata(t *testing.T) {
	wb, err := OpenBytes(xlsbFixture(t))
	require.NoError(t, err)
	defer wb.Close()

	require.Equal(t, FormatXLSB, wb.Format())
	require.Equal(t, []string{"Data", "Broken"}, wb.SheetNames())

	meta, err := wb.SheetMetadata("Data")
	require.NoError(t, err)
	require.Equal(t, VisibilityVisible, meta.Visibility)
	require.Equal(t, &Dimension{FirstRow: 0, FirstCol: 0, LastRow: 1, LastCol: 3}, meta.Dimension)

	broken, err := wb.SheetMetadata("Broken")
	require.NoError(t, err)
	require.Equal(t, VisibilityVeryHidden, broken.Visibility)

	names := wb.DefinedNames()
	require.Equal(t, map[string]string{"header": ""}, names)
}

func TestXLSBRows(t *testing.T) {
	wb, err := OpenBytes(xlsbFixture(t))
	require.NoError(t, err)
	defer wb.Close()

	cur, err := wb.OpenSheet("Data")
	require.NoError(t, err)
	defer cur.Close()

	rows := collectRows(t, cur)
	require.Len(t, rows, 2)

	require.Equal(t, 0, rows[0].Index)
	require.Equal(t, []CellValue{
		IntValue(42),
		FloatValue(1.5),
		StringValue("alpha"),
		BoolValue(true),
	}, rows[0].Cells)

	require.Equal(t, 2, rows[1].Index)
	require.Equal(t, []CellValue{
		DateTimeValue(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)),
		ErrorValue("#DIV/0!"),
		StringValue("inline"),
		ErrorValue("#REF!"), // shared-string index out of range
	}, rows[1].Cells)
	require.NotEmpty(t, wb.Warnings())
}

func TestXLSBMergedRanges(t *testing.T) {
	wb, err := OpenBytes(xlsbFixture(t))
	require.NoError(t, err)
	defer wb.Close()

	ranges, err := wb.MergedRanges("Data")
	require.NoError(t, err)
	require.Equal(t, []Range{{FirstRow: 0, FirstCol: 0, LastRow: 1, LastCol: 0}}, ranges)
}

func TestXLSBSharedStringCountMismatch(t *testing.T) {
	// The part header declares three strings but only one item follows.
	var b b12Builder
	b.rec(b12SstBegin, (&b12Payload{}).u32(3).u32(3).bytes())
	b.rec(b12SstItem, (&b12Payload{}).u8(0).wstr("only").bytes())

	data := buildZip(t, map[string]string{
		"xl/workbook.bin":            string(xlsbWorkbookPart()),
		"xl/_rels/workbook.bin.rels": xlsbRelsFixture,
		"xl/sharedStrings.bin":       string(b.bytes()),
		"xl/worksheets/sheet1.bin":   string(xlsbSheet1Part()),
		"xl/worksheets/sheet2.bin":   string(xlsbBrokenSheetPart()),
	})

	_, err := OpenBytes(data)
	var malformed *MalformedContainerError
	require.ErrorAs(t, err, &malformed)
	require.Equal(t, "workbook", malformed.Scope)
}

// A truncated sheet delivers the rows before the tear, then fails, and the
// failure stays scoped to that sheet.
func TestXLSBTruncatedSheet(t *testing.T) {
	wb, err := OpenBytes(xlsbFixture(t))
	require.NoError(t, err)
	defer wb.Close()

	cur, err := wb.OpenSheet("Broken")
	require.NoError(t, err)

	row, err := cur.Next()
	require.NoError(t, err)
	require.Equal(t, []CellValue{IntValue(7)}, row.Cells)

	_, err = cur.Next()
	var trunc *SheetTruncatedError
	require.True(t, errors.As(err, &trunc))
	require.Equal(t, "Broken", trunc.Sheet)

	_, err = cur.Next()
	require.True(t, errors.As(err, &trunc))

	// The good sheet is unaffected.
	other, err := wb.OpenSheet("Data")
	require.NoError(t, err)
	rows := collectRows(t, other)
	require.Len(t, rows, 2)
}
