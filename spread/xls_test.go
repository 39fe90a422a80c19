package spread

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// biffBuilder assembles a raw BIFF8 record stream for fixtures.
type biffBuilder struct {
	buf bytes.Buffer
}

func (b *biffBuilder) rec(code uint16, payload []byte) {
	var hdr [4]byte
	binary.LittleEndian.PutUint16(hdr[0:2], code)
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(payload)))
	b.buf.Write(hdr[:])
	b.buf.Write(payload)
}

func (b *biffBuilder) pos() int      { return b.buf.Len() }
func (b *biffBuilder) bytes() []byte { return b.buf.Bytes() }

type biffPayload struct {
	buf bytes.Buffer
}

func (p *biffPayload) u8(v byte) *biffPayload {
	p.buf.WriteByte(v)
	return p
}

func (p *biffPayload) u16(v uint16) *biffPayload {
	var w [2]byte
	binary.LittleEndian.PutUint16(w[:], v)
	p.buf.Write(w[:])
	return p
}

func (p *biffPayload) u32(v uint32) *biffPayload {
	var w [4]byte
	binary.LittleEndian.PutUint32(w[:], v)
	p.buf.Write(w[:])
	return p
}

func (p *biffPayload) f64(v float64) *biffPayload {
	var w [8]byte
	binary.LittleEndian.PutUint64(w[:], math.Float64bits(v))
	p.buf.Write(w[:])
	return p
}

// ustr writes a BIFF8 unicode string with the given length-prefix width,
// compressed encoding.
func (p *biffPayload) ustr(s string, lenlen int) *biffPayload {
	if lenlen == 1 {
		p.u8(byte(len(s)))
	} else {
		p.u16(uint16(len(s)))
	}
	p.u8(0) // options: compressed
	p.buf.WriteString(s)
	return p
}

func (p *biffPayload) bytes() []byte { return p.buf.Bytes() }

func bofPayload(streamType uint16) []byte {
	return (&biffPayload{}).u16(0x0600).u16(streamType).u32(0).u32(0).u32(0).bytes()
}

// xlsFixture builds a raw BIFF8 workbook stream with one sheet. The
// BOUNDSHEET offset is patched once the sheet substream position is known.
func xlsFixture(t *testing.T) []byte {
	t.Helper()

	var b biffBuilder
	b.rec(recBOF, bofPayload(biffWorkbookGlobals))
	b.rec(recCodepage, (&biffPayload{}).u16(1252).bytes())
	b.rec(recDatemode, (&biffPayload{}).u16(0).bytes())
	b.rec(recFormat, (&biffPayload{}).u16(164).ustr("yyyy-mm-dd", 2).bytes())
	// Two cell styles: general, then the custom date format.
	b.rec(recXF, (&biffPayload{}).u16(0).u16(0).u32(0).u32(0).u32(0).bytes())
	b.rec(recXF, (&biffPayload{}).u16(0).u16(164).u32(0).u32(0).u32(0).bytes())
	sst := (&biffPayload{}).u32(2).u32(2).ustr("shared one", 2).ustr("shared two", 2)
	b.rec(recSST, sst.bytes())

	boundsheetAt := b.pos()
	b.rec(recBoundsheet, (&biffPayload{}).u32(0).u8(0).u8(0).ustr("Data", 1).bytes())
	b.rec(recEOF, nil)

	sheetStart := b.pos()
	b.rec(recBOF, bofPayload(biffWorksheet))
	b.rec(recDimension, (&biffPayload{}).u32(0).u32(2).u16(0).u16(4).u16(0).bytes())
	b.rec(recNumber, (&biffPayload{}).u16(0).u16(0).u16(0).f64(3).bytes())
	rk := uint32(44197<<2) | 2
	b.rec(recRK, (&biffPayload{}).u16(0).u16(1).u16(1).u32(rk).bytes())
	b.rec(recLabelSST, (&biffPayload{}).u16(0).u16(2).u16(0).u32(0).bytes())
	b.rec(recBoolErr, (&biffPayload{}).u16(1).u16(0).u16(0).u8(1).u8(0).bytes())
	b.rec(recBoolErr, (&biffPayload{}).u16(1).u16(1).u16(0).u8(0x17).u8(1).bytes())
	mulrk := (&biffPayload{}).u16(1).u16(2).
		u16(0).u32(uint32(10<<2) | 2).
		u16(0).u32(uint32(20<<2) | 2).
		u16(3)
	b.rec(recMulRK, mulrk.bytes())
	b.rec(recLabelSST, (&biffPayload{}).u16(3).u16(0).u16(0).u32(9).bytes()) // bad index
	merged := (&biffPayload{}).u16(1).u16(0).u16(1).u16(0).u16(1)
	b.rec(recMergedCells, merged.bytes())
	b.rec(recEOF, nil)

	stream := b.bytes()
	// Patch the sheet's absolute position into its BOUNDSHEET record.
	binary.LittleEndian.PutUint32(stream[boundsheetAt+4:boundsheetAt+8], uint32(sheetStart))
	return stream
}

func TestXLSMetadata(t *testing.T) {
	wb, err := OpenBytes(xlsFixture(t))
	require.NoError(t, err)
	defer wb.Close()

	require.Equal(t, FormatXLS, wb.Format())
	require.Equal(t, []string{"Data"}, wb.SheetNames())
	require.Equal(t, 0, wb.DateMode())

	meta, err := wb.SheetMetadata("Data")
	require.NoError(t, err)
	require.Equal(t, VisibilityVisible, meta.Visibility)
	require.Equal(t, &Dimension{FirstRow: 0, FirstCol: 0, LastRow: 1, LastCol: 3}, meta.Dimension)
}

func TestXLSRows(t *testing.T) {
	wb, err := OpenBytes(xlsFixture(t))
	require.NoError(t, err)
	defer wb.Close()

	cur, err := wb.OpenSheet("Data")
	require.NoError(t, err)
	defer cur.Close()

	rows := collectRows(t, cur)
	require.Len(t, rows, 3)

	require.Equal(t, 0, rows[0].Index)
	require.Equal(t, []CellValue{
		IntValue(3),
		DateTimeValue(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)),
		StringValue("shared one"),
	}, rows[0].Cells)

	require.Equal(t, 1, rows[1].Index)
	require.Equal(t, []CellValue{
		BoolValue(true),
		ErrorValue("#REF!"),
		IntValue(10),
		IntValue(20),
	}, rows[1].Cells)

	require.Equal(t, 3, rows[2].Index)
	require.Equal(t, []CellValue{ErrorValue("#REF!")}, rows[2].Cells)
	require.NotEmpty(t, wb.Warnings())

	_, err = cur.Next()
	require.ErrorIs(t, err, ErrEndOfSheet)
}

func TestXLSMergedRanges(t *testing.T) {
	wb, err := OpenBytes(xlsFixture(t))
	require.NoError(t, err)
	defer wb.Close()

	ranges, err := wb.MergedRanges("Data")
	require.NoError(t, err)
	require.Equal(t, []Range{{FirstRow: 0, FirstCol: 0, LastRow: 1, LastCol: 1}}, ranges)
}

func TestXLSDatemode1904(t *testing.T) {
	var b biffBuilder
	b.rec(recBOF, bofPayload(biffWorkbookGlobals))
	b.rec(recDatemode, (&biffPayload{}).u16(1).bytes())
	boundsheetAt := b.pos()
	b.rec(recBoundsheet, (&biffPayload{}).u32(0).u8(0).u8(0).ustr("S", 1).bytes())
	b.rec(recEOF, nil)
	sheetStart := b.pos()
	b.rec(recBOF, bofPayload(biffWorksheet))
	b.rec(recNumber, (&biffPayload{}).u16(0).u16(0).u16(0).f64(0).bytes())
	b.rec(recEOF, nil)
	stream := b.bytes()
	binary.LittleEndian.PutUint32(stream[boundsheetAt+4:boundsheetAt+8], uint32(sheetStart))

	wb, err := OpenBytes(stream)
	require.NoError(t, err)
	defer wb.Close()
	require.Equal(t, 1, wb.DateMode())
}

func TestXLSHiddenSheet(t *testing.T) {
	var b biffBuilder
	b.rec(recBOF, bofPayload(biffWorkbookGlobals))
	bs1 := b.pos()
	b.rec(recBoundsheet, (&biffPayload{}).u32(0).u8(1).u8(0).ustr("H", 1).bytes())
	bs2 := b.pos()
	b.rec(recBoundsheet, (&biffPayload{}).u32(0).u8(2).u8(0).ustr("VH", 1).bytes())
	b.rec(recEOF, nil)
	s1 := b.pos()
	b.rec(recBOF, bofPayload(biffWorksheet))
	b.rec(recEOF, nil)
	s2 := b.pos()
	b.rec(recBOF, bofPayload(biffWorksheet))
	b.rec(recEOF, nil)
	stream := b.bytes()
	binary.LittleEndian.PutUint32(stream[bs1+4:bs1+8], uint32(s1))
	binary.LittleEndian.PutUint32(stream[bs2+4:bs2+8], uint32(s2))

	wb, err := OpenBytes(stream)
	require.NoError(t, err)
	defer wb.Close()

	h, err := wb.SheetMetadata("H")
	require.NoError(t, err)
	require.Equal(t, VisibilityHidden, h.Visibility)
	vh, err := wb.SheetMetadata("VH")
	require.NoError(t, err)
	require.Equal(t, VisibilityVeryHidden, vh.Visibility)
}

func TestXLSEncryptedWorkbook(t *testing.T) {
	var b biffBuilder
	b.rec(recBOF, bofPayload(biffWorkbookGlobals))
	b.rec(recFilepass, (&biffPayload{}).u16(1).bytes())
	b.rec(recEOF, nil)

	_, err := OpenBytes(b.bytes())
	var unsupported *UnsupportedFormatError
	require.ErrorAs(t, err, &unsupported)
}

func TestXLSSSTContinuation(t *testing.T) {
	// One string split across a CONTINUE record, switching to UTF-16 there.
	first := (&biffPayload{}).u32(1).u32(1).u16(6).u8(0)
	first.buf.WriteString("abc")
	cont := &biffPayload{}
	cont.u8(1)
	for _, r := range "def" {
		cont.u16(uint16(r))
	}

	var b biffBuilder
	b.rec(recBOF, bofPayload(biffWorkbookGlobals))
	b.rec(recSST, first.bytes())
	b.rec(recContinue, cont.bytes())
	boundsheetAt := b.pos()
	b.rec(recBoundsheet, (&biffPayload{}).u32(0).u8(0).u8(0).ustr("S", 1).bytes())
	b.rec(recEOF, nil)
	sheetStart := b.pos()
	b.rec(recBOF, bofPayload(biffWorksheet))
	b.rec(recLabelSST, (&biffPayload{}).u16(0).u16(0).u16(0).u32(0).bytes())
	b.rec(recEOF, nil)
	stream := b.bytes()
	binary.LittleEndian.PutUint32(stream[boundsheetAt+4:boundsheetAt+8], uint32(sheetStart))

	wb, err := OpenBytes(stream)
	require.NoError(t, err)
	defer wb.Close()

	cur, err := wb.OpenSheet("S")
	require.NoError(t, err)
	rows := collectRows(t, cur)
	require.Len(t, rows, 1)
	require.Equal(t, []CellValue{StringValue("abcdef")}, rows[0].Cells)
}

func TestXLSSharedStringCountMismatch(t *testing.T) {
	// The table header declares three strings but only one follows.
	sst := (&biffPayload{}).u32(3).u32(3).ustr("only", 2)

	var b biffBuilder
	b.rec(recBOF, bofPayload(biffWorkbookGlobals))
	b.rec(recSST, sst.bytes())
	b.rec(recEOF, nil)

	_, err := OpenBytes(b.bytes())
	var malformed *MalformedContainerError
	require.ErrorAs(t, err, &malformed)
	require.Equal(t, "workbook", malformed.Scope)
}

func TestXLSCodepageOverride(t *testing.T) {
	warns := &warningList{}
	dec, err := openXLS(xlsFixture(t), warns, &OpenOptions{CodepageOverride: 1251})
	require.NoError(t, err)
	defer dec.close()

	// The fixture's CODEPAGE record declares 1252; the override must win.
	require.Equal(t, 1251, dec.(*xlsDecoder).codepage)
}
