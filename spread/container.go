package spread

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"strings"

	"github.com/richardlehane/mscfb"
)

// zipArchive is the random-access view over a zip-hosted container. Entry
// lookup is case-insensitive and tolerates backslash separators; some third
// party writers produce both.
type zipArchive struct {
	reader  *zip.Reader
	entries map[string]*zip.File // normalized name -> entry
}

func normalizeEntryName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "\\", "/"))
}

func newZipArchive(data []byte) (*zipArchive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &MalformedContainerError{Scope: "workbook", Reason: "bad zip central directory", Err: err}
	}
	a := &zipArchive{
		reader:  zr,
		entries: make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		a.entries[normalizeEntryName(f.Name)] = f
	}
	return a, nil
}

func (a *zipArchive) hasEntry(name string) bool {
	_, ok := a.entries[normalizeEntryName(name)]
	return ok
}

// readEntry decompresses a whole entry. Decompressor checksum failures on
// Close are propagated: a truncated deflate stream can read "successfully"
// and only fail at close time.
func (a *zipArchive) readEntry(name string) ([]byte, error) {
	f, ok := a.entries[normalizeEntryName(name)]
	if !ok {
		return nil, &MalformedContainerError{Scope: "workbook", Reason: "missing entry " + name}
	}
	rc, err := f.Open()
	if err != nil {
		return nil, &MalformedContainerError{Scope: "workbook", Reason: "cannot open entry " + name, Err: err}
	}
	data, readErr := io.ReadAll(rc)
	closeErr := rc.Close()
	if readErr != nil {
		return nil, &MalformedContainerError{Scope: "workbook", Reason: "cannot read entry " + name, Err: readErr}
	}
	if closeErr != nil {
		return nil, &MalformedContainerError{Scope: "workbook", Reason: "corrupt entry " + name, Err: closeErr}
	}
	return data, nil
}

// openEntry returns a fresh streaming reader over an entry. Each sheet cursor
// gets its own independent read view so cursors never share a position.
func (a *zipArchive) openEntry(name string) (io.ReadCloser, error) {
	f, ok := a.entries[normalizeEntryName(name)]
	if !ok {
		return nil, &MalformedContainerError{Scope: "workbook", Reason: "missing entry " + name}
	}
	rc, err := f.Open()
	if err != nil {
		return nil, &MalformedContainerError{Scope: "workbook", Reason: "cannot open entry " + name, Err: err}
	}
	return rc, nil
}

// locateCompoundStream walks a compound file's directory and returns the
// contents of the first stream matching one of names. Legacy workbooks store
// the BIFF stream as "Workbook" (BIFF8) or "Book" (BIFF5).
func locateCompoundStream(data []byte, names ...string) ([]byte, error) {
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return nil, &MalformedContainerError{Scope: "workbook", Reason: "bad compound-file header", Err: err}
	}
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		for _, want := range names {
			if entry.Name != want {
				continue
			}
			buf := make([]byte, entry.Size)
			n, rerr := io.ReadFull(entry, buf)
			if rerr != nil && rerr != io.ErrUnexpectedEOF {
				return nil, &MalformedContainerError{Scope: "workbook", Reason: "cannot read stream " + want, Err: rerr}
			}
			return buf[:n], nil
		}
	}
	return nil, &MalformedContainerError{Scope: "workbook", Reason: "no workbook stream in compound file"}
}

// biffStream frames a legacy BIFF record stream: each record is a 2-byte
// little-endian type code, a 2-byte length, then the payload. The stream
// supports seeking to a previously noted offset so sheet cursors can restart
// from a sheet's BOF position.
type biffStream struct {
	mem []byte
	pos int
}

func newBiffStream(mem []byte, pos int) *biffStream {
	return &biffStream{mem: mem, pos: pos}
}

func (s *biffStream) tell() int { return s.pos }

func (s *biffStream) seek(pos int) { s.pos = pos }

// next returns the next record. io.EOF signals the physical end of input;
// io.ErrUnexpectedEOF a record whose declared length overruns the stream.
func (s *biffStream) next() (code int, data []byte, err error) {
	if s.pos >= len(s.mem) {
		return 0, nil, io.EOF
	}
	if s.pos+4 > len(s.mem) {
		return 0, nil, io.ErrUnexpectedEOF
	}
	code = int(binary.LittleEndian.Uint16(s.mem[s.pos : s.pos+2]))
	length := int(binary.LittleEndian.Uint16(s.mem[s.pos+2 : s.pos+4]))
	s.pos += 4
	if s.pos+length > len(s.mem) {
		return code, nil, io.ErrUnexpectedEOF
	}
	data = s.mem[s.pos : s.pos+length]
	s.pos += length
	return code, data, nil
}

// biff12Stream frames an OOXML binary record stream read from a container
// entry: record id and payload length are both variable-length integers, 7
// data bits per byte with a continuation flag in the high bit. Ids use at
// most 2 bytes, lengths at most 4. io.EOF is returned only at a clean record
// boundary; a partial frame or payload yields io.ErrUnexpectedEOF.
type biff12Stream struct {
	br *bufio.Reader
}

func newBiff12Stream(r io.Reader) *biff12Stream {
	return &biff12Stream{br: bufio.NewReader(r)}
}

func (s *biff12Stream) next() (id int, data []byte, err error) {
	id, err = s.readVarint(2, true)
	if err != nil {
		return 0, nil, err
	}
	length, err := s.readVarint(4, false)
	if err != nil {
		return 0, nil, io.ErrUnexpectedEOF
	}
	data = make([]byte, length)
	if _, err := io.ReadFull(s.br, data); err != nil {
		return id, nil, io.ErrUnexpectedEOF
	}
	return id, data, nil
}

func (s *biff12Stream) readVarint(maxBytes int, eofAtStart bool) (int, error) {
	v := 0
	for i := 0; i < maxBytes; i++ {
		b, err := s.br.ReadByte()
		if err != nil {
			if i == 0 && eofAtStart && err == io.EOF {
				return 0, io.EOF
			}
			return 0, io.ErrUnexpectedEOF
		}
		v |= int(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return v, nil
}

// biff12Record field readers, shared by the xlsb header and cursor code.
type biff12Record struct {
	data []byte
	pos  int
}

func (r *biff12Record) remaining() int { return len(r.data) - r.pos }

func (r *biff12Record) skip(n int) bool {
	if r.pos+n > len(r.data) {
		return false
	}
	r.pos += n
	return true
}

func (r *biff12Record) uint8() (byte, bool) {
	if r.pos+1 > len(r.data) {
		return 0, false
	}
	b := r.data[r.pos]
	r.pos++
	return b, true
}

func (r *biff12Record) uint16() (uint16, bool) {
	if r.pos+2 > len(r.data) {
		return 0, false
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos : r.pos+2])
	r.pos += 2
	return v, true
}

func (r *biff12Record) uint32() (uint32, bool) {
	if r.pos+4 > len(r.data) {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v, true
}

func (r *biff12Record) float64() (float64, bool) {
	if r.pos+8 > len(r.data) {
		return 0, false
	}
	bits := binary.LittleEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return math.Float64frombits(bits), true
}

// wideString reads an XLWideString: a 4-byte character count followed by
// UTF-16LE code units.
func (r *biff12Record) wideString() (string, bool) {
	n, ok := r.uint32()
	if !ok {
		return "", false
	}
	if n == 0xFFFFFFFF { // XLNullableWideString null marker
		return "", true
	}
	byteLen := int(n) * 2
	if byteLen < 0 || r.pos+byteLen > len(r.data) {
		return "", false
	}
	s := decodeUTF16LE(r.data[r.pos : r.pos+byteLen])
	r.pos += byteLen
	return s, true
}
