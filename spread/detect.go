package spread

import (
	"bytes"
	"encoding/binary"
)

// FormatKind identifies a supported container format.
type FormatKind int

const (
	FormatUnknown FormatKind = iota
	FormatXLS                       // legacy binary workbook (compound file or raw BIFF)
	FormatXLSX                      // OOXML zip workbook
	FormatXLSB                      // OOXML binary-record zip workbook
	FormatODS                       // OpenDocument spreadsheet
)

var formatDescriptions = map[FormatKind]string{
	FormatUnknown: "unknown file type",
	FormatXLS:     "legacy binary workbook (xls)",
	FormatXLSX:    "OOXML workbook (xlsx)",
	FormatXLSB:    "OOXML binary workbook (xlsb)",
	FormatODS:     "OpenDocument spreadsheet (ods)",
}

func (f FormatKind) String() string {
	return formatDescriptions[f]
}

// cfbSignature is the magic cookie in the first 8 bytes of a compound file.
var cfbSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// zipSignature is the zip local-file-header magic.
var zipSignature = []byte("PK\x03\x04")

// peekSize is the signature window the detector is allowed to consult.
const peekSize = 8

// bofOpcodes are the BIFF beginning-of-file record types, newest first. A
// bare record stream starting with one of these is a raw BIFF workbook
// without a compound-file wrapper.
var bofOpcodes = []uint16{0x0809, 0x0409, 0x0209, 0x0009}

// DetectFormat inspects a small prefix of the input and reports the container
// format. Zip-hosted formats (xlsx, xlsb, ods) share the zip signature; the
// distinction needs the archive's entry names, so DetectFormat alone reports
// them all as FormatXLSX-family via detectZip at open time. Callers that only
// have the prefix get FormatUnknown for zip inputs whose inner entries are
// not yet known; Open performs the full two-step detection.
func DetectFormat(peek []byte) FormatKind {
	if len(peek) >= len(cfbSignature) && bytes.HasPrefix(peek, cfbSignature) {
		return FormatXLS
	}
	if len(peek) >= 2 {
		op := binary.LittleEndian.Uint16(peek[:2])
		for _, code := range bofOpcodes {
			if op == code {
				return FormatXLS
			}
		}
	}
	return FormatUnknown
}

// isZipPrefix reports whether the prefix carries the zip local-header magic.
func isZipPrefix(peek []byte) bool {
	return len(peek) >= len(zipSignature) && bytes.HasPrefix(peek, zipSignature)
}

// detectZip resolves the three zip-hosted formats by the required inner entry
// name, never by content heuristics.
func detectZip(a *zipArchive) FormatKind {
	switch {
	case a.hasEntry("xl/workbook.xml"):
		return FormatXLSX
	case a.hasEntry("xl/workbook.bin"):
		return FormatXLSB
	case a.hasEntry("content.xml"):
		return FormatODS
	}
	return FormatUnknown
}
