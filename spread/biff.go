package spread

import (
	"encoding/binary"
	"math"
	"unicode/utf16"

	"golang.org/x/text/encoding/charmap"
)

// Legacy BIFF record types, the subset the decoder consumes. Names follow the
// workbook-stream documentation.
const (
	biffWorkbookGlobals = 0x0005
	biffWorksheet       = 0x0010

	biffBoundsheetWorksheet = 0x00

	recBOF         = 0x0809
	recEOF         = 0x000A
	recBoundsheet  = 0x0085
	recCodepage    = 0x0042
	recDatemode    = 0x0022
	recCountry     = 0x008C
	recFormat      = 0x041E
	recXF          = 0x00E0
	recSST         = 0x00FC
	recContinue    = 0x003C
	recName        = 0x0018
	recDimension   = 0x0200
	recRow         = 0x0208
	recNumber      = 0x0203
	recRK          = 0x027E
	recMulRK       = 0x00BD
	recBlank       = 0x0201
	recMulBlank    = 0x00BE
	recLabel       = 0x0204
	recLabelSST    = 0x00FD
	recRString     = 0x00D6
	recBoolErr     = 0x0205
	recFormula     = 0x0006
	recString      = 0x0207
	recMergedCells = 0x00E5
	recFilepass    = 0x002F
)

var biffBofLengths = map[int]int{
	0x0809: 8,
	0x0409: 6,
	0x0209: 6,
	0x0009: 4,
}

// biffErrorText maps the error codes shared by BOOLERR records and formula
// results to their display strings.
var biffErrorText = map[byte]string{
	0x00: "#NULL!",
	0x07: "#DIV/0!",
	0x0F: "#VALUE!",
	0x17: "#REF!",
	0x1D: "#NAME?",
	0x24: "#NUM!",
	0x2A: "#N/A",
	0x2B: "#GETTING_DATA",
}

func biffErrorString(code byte) string {
	if s, ok := biffErrorText[code]; ok {
		return s
	}
	return "#UNKNOWN!"
}

// codepageCharmap maps the codepages seen in legacy workbooks to decoders.
// Codepage 1200 (UTF-16LE) is handled separately; anything unmapped falls
// back to cp1252, the most common mislabeling in the wild.
var codepageCharmap = map[int]*charmap.Charmap{
	437:   charmap.CodePage437,
	850:   charmap.CodePage850,
	852:   charmap.CodePage852,
	866:   charmap.CodePage866,
	874:   charmap.Windows874,
	1250:  charmap.Windows1250,
	1251:  charmap.Windows1251,
	1252:  charmap.Windows1252,
	1253:  charmap.Windows1253,
	1254:  charmap.Windows1254,
	1255:  charmap.Windows1255,
	1256:  charmap.Windows1256,
	1257:  charmap.Windows1257,
	1258:  charmap.Windows1258,
	10000: charmap.Macintosh,
	32769: charmap.Windows1252,
}

func decodeCodepage(data []byte, codepage int) string {
	cm, ok := codepageCharmap[codepage]
	if !ok {
		if codepage == 1200 {
			return decodeUTF16LE(data)
		}
		cm = charmap.Windows1252
	}
	out, err := cm.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(out)
}

func decodeUTF16LE(data []byte) string {
	words := make([]uint16, len(data)/2)
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(data[i*2 : i*2+2])
	}
	return string(utf16.Decode(words))
}

// rkNumber is the packed 30-bit numeric encoding used by RK and MULRK
// records (and the xlsb RK cell record): bit 0 flags a divide-by-100, bit 1
// selects integer vs truncated-float payload.
type rkNumber uint32

func (r rkNumber) float64() float64 {
	var v float64
	if r&2 != 0 {
		v = float64(int32(r) >> 2)
	} else {
		v = math.Float64frombits(uint64(r&^3) << 32)
	}
	if r&1 != 0 {
		v /= 100
	}
	return v
}

// unpackByteString reads a legacy byte string: a length prefix of lenlen
// bytes (1 or 2) followed by codepage-encoded bytes. Returns the string and
// the position after it.
func unpackByteString(data []byte, pos int, lenlen int, codepage int) (string, int, bool) {
	if pos+lenlen > len(data) {
		return "", pos, false
	}
	var n int
	if lenlen == 1 {
		n = int(data[pos])
	} else {
		n = int(binary.LittleEndian.Uint16(data[pos : pos+2]))
	}
	pos += lenlen
	if pos+n > len(data) {
		return "", pos, false
	}
	s := decodeCodepage(data[pos:pos+n], codepage)
	return s, pos + n, true
}

// unpackUnicodeString reads a BIFF8 unicode string: a character-count prefix
// of lenlen bytes, an options byte (compressed/rich/phonetic flags), optional
// rich-text and phonetic headers, then the character data. Rich-text runs and
// phonetic blocks that trail the characters are skipped.
func unpackUnicodeString(data []byte, pos int, lenlen int) (string, int, bool) {
	if pos+lenlen > len(data) {
		return "", pos, false
	}
	var nchars int
	if lenlen == 1 {
		nchars = int(data[pos])
	} else {
		nchars = int(binary.LittleEndian.Uint16(data[pos : pos+2]))
	}
	pos += lenlen

	if pos >= len(data) {
		return "", pos, false
	}
	options := data[pos]
	pos++

	richRuns := 0
	phoneticSize := 0
	if options&0x08 != 0 {
		if pos+2 > len(data) {
			return "", pos, false
		}
		richRuns = int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		pos += 2
	}
	if options&0x04 != 0 {
		if pos+4 > len(data) {
			return "", pos, false
		}
		phoneticSize = int(binary.LittleEndian.Uint32(data[pos : pos+4]))
		pos += 4
	}

	var s string
	if options&0x01 != 0 {
		if pos+2*nchars > len(data) {
			return "", pos, false
		}
		s = decodeUTF16LE(data[pos : pos+2*nchars])
		pos += 2 * nchars
	} else {
		if pos+nchars > len(data) {
			return "", pos, false
		}
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(data[pos : pos+nchars])
		if err != nil {
			s = string(data[pos : pos+nchars])
		} else {
			s = string(out)
		}
		pos += nchars
	}

	pos += 4*richRuns + phoneticSize
	if pos > len(data) {
		pos = len(data)
	}
	return s, pos, true
}

// sstSegments reads BIFF8 shared strings across CONTINUE boundaries. Each
// continuation restates the compression flag for the characters that follow
// it, so a string can switch between compressed and UTF-16 mid-way.
type sstSegments struct {
	segs []([]byte)
	seg  int
	pos  int
}

func newSSTSegments(first []byte, continues [][]byte) *sstSegments {
	segs := append([][]byte{first}, continues...)
	return &sstSegments{segs: segs}
}

// advance moves past exhausted segments to the next one holding data.
func (s *sstSegments) advance() bool {
	for s.pos >= len(s.segs[s.seg]) {
		if s.seg+1 >= len(s.segs) {
			return false
		}
		s.seg++
		s.pos = 0
	}
	return true
}

func (s *sstSegments) readByte() (byte, bool) {
	if !s.advance() {
		return 0, false
	}
	b := s.segs[s.seg][s.pos]
	s.pos++
	return b, true
}

func (s *sstSegments) readUint16() (uint16, bool) {
	lo, ok := s.readByte()
	if !ok {
		return 0, false
	}
	hi, ok := s.readByte()
	if !ok {
		return 0, false
	}
	return uint16(lo) | uint16(hi)<<8, true
}

func (s *sstSegments) readUint32() (uint32, bool) {
	lo, ok := s.readUint16()
	if !ok {
		return 0, false
	}
	hi, ok := s.readUint16()
	if !ok {
		return 0, false
	}
	return uint32(lo) | uint32(hi)<<16, true
}

func (s *sstSegments) skip(n int) bool {
	for n > 0 {
		if !s.advance() {
			return false
		}
		avail := len(s.segs[s.seg]) - s.pos
		if avail > n {
			avail = n
		}
		s.pos += avail
		n -= avail
	}
	return true
}

// readString reads one shared-string entry, honouring per-continuation
// compression flags.
func (s *sstSegments) readString() (string, bool) {
	nchars, ok := s.readUint16()
	if !ok {
		return "", false
	}
	options, ok := s.readByte()
	if !ok {
		return "", false
	}
	richRuns := 0
	phoneticSize := 0
	if options&0x08 != 0 {
		v, ok := s.readUint16()
		if !ok {
			return "", false
		}
		richRuns = int(v)
	}
	if options&0x04 != 0 {
		v, ok := s.readUint32()
		if !ok {
			return "", false
		}
		phoneticSize = int(v)
	}

	compressed := options&0x01 == 0
	var runes []uint16
	for i := 0; i < int(nchars); i++ {
		if !s.advance() {
			return "", false
		}
		if s.pos == 0 && i > 0 {
			// Continuation boundary: a fresh flag byte precedes the rest of
			// the characters.
			flag, ok := s.readByte()
			if !ok {
				return "", false
			}
			compressed = flag&0x01 == 0
		}
		if compressed {
			b, ok := s.readByte()
			if !ok {
				return "", false
			}
			runes = append(runes, uint16(b))
		} else {
			w, ok := s.readUint16()
			if !ok {
				return "", false
			}
			runes = append(runes, w)
		}
	}
	// Trailing rich-text and phonetic decoration may be truncated; the string
	// itself is intact either way.
	s.skip(4*richRuns + phoneticSize)
	return string(utf16.Decode(runes)), true
}
