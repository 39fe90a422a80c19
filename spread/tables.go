package spread

import (
	"fmt"
	"regexp"
	"strings"
)

// FormatClass is the semantic classification of a number format, the only
// thing the engine needs from a format string: whether a raw numeric cell is
// a plain number, a calendar value, or an elapsed time.
type FormatClass int

const (
	FormatGeneral FormatClass = iota
	FormatDate
	FormatTime
	FormatDateTime
	FormatDuration
	FormatNumeric
	FormatText
)

var formatClassNames = map[FormatClass]string{
	FormatGeneral:  "general",
	FormatDate:     "date",
	FormatTime:     "time",
	FormatDateTime: "datetime",
	FormatDuration: "duration",
	FormatNumeric:  "numeric",
	FormatText:     "text",
}

func (c FormatClass) String() string { return formatClassNames[c] }

// sharedTables holds the per-workbook resources cell records reference by
// index: the shared-string pool, the number-format classification table, and
// the cell-style (XF) to format-id mapping. Built once while the header
// section is consumed, immutable afterwards; every cursor borrows it.
type sharedTables struct {
	strings   []string
	formats   map[int]FormatClass // format id -> classification
	xfFormats []int               // XF index -> format id
}

func newSharedTables() *sharedTables {
	return &sharedTables{formats: make(map[int]FormatClass)}
}

// sharedString resolves a shared-string index. The boolean is false for
// indices outside the populated table; the caller degrades the cell to an
// error value.
func (t *sharedTables) sharedString(idx int) (string, bool) {
	if idx < 0 || idx >= len(t.strings) {
		return "", false
	}
	return t.strings[idx], true
}

// addFormat registers a format definition under its source-assigned id.
func (t *sharedTables) addFormat(id int, code string) {
	t.formats[id] = classifyFormat(code)
}

// formatClass resolves a format id, falling back to the OOXML builtin table
// for ids the workbook does not redefine.
func (t *sharedTables) formatClass(id int) (FormatClass, bool) {
	if c, ok := t.formats[id]; ok {
		return c, true
	}
	if c, ok := builtinFormatClass(id); ok {
		return c, true
	}
	return FormatGeneral, false
}

// classForXF resolves a cell's XF (style) index to a format classification.
// The boolean is false when the index or its format id is unknown.
func (t *sharedTables) classForXF(xf int) (FormatClass, bool) {
	if xf < 0 || xf >= len(t.xfFormats) {
		return FormatGeneral, false
	}
	return t.formatClass(t.xfFormats[xf])
}

// builtinFormatClass covers the implied format ids shared by the Excel-family
// formats. Ids 0-163 are reserved for builtins; workbooks may still override
// them with explicit definitions.
func builtinFormatClass(id int) (FormatClass, bool) {
	switch {
	case id == 0:
		return FormatGeneral, true
	case id >= 1 && id <= 13:
		return FormatNumeric, true
	case id >= 14 && id <= 17:
		return FormatDate, true
	case id >= 18 && id <= 21:
		return FormatTime, true
	case id == 22:
		return FormatDateTime, true
	case id >= 37 && id <= 44:
		return FormatNumeric, true
	case id >= 45 && id <= 47:
		return FormatDuration, true
	case id == 48:
		return FormatNumeric, true
	case id == 49:
		return FormatText, true
	}
	return FormatGeneral, false
}

var bracketRE = regexp.MustCompile(`\[[^\]]*\]`)

// elapsedRE matches the elapsed-time tokens [h] [hh] [m] [mm] [s] [ss] that
// mark a format as a duration rather than a clock time.
var elapsedRE = regexp.MustCompile(`(?i)\[(h+|m+|s+)\]`)

var nonDateFormats = map[string]bool{
	"0.00E+00": true,
	"##0.0E+0": true,
	"General":  true,
	"GENERAL":  true,
	"general":  true,
	"@":        true,
}

var formatSkipChars = map[rune]bool{
	'$': true, '-': true, '+': true, '/': true, '(': true, ')': true, ':': true, ' ': true,
}

// classifyFormat reduces a number-format string and decides its semantic
// class. Quoted literals, backslash escapes and underscore/asterisk padding
// are ignored; bracketed sections are checked for elapsed-time tokens and
// then stripped. Date formats have one or more of ymdhs in them, numeric
// formats have # 0 or ?.
func classifyFormat(format string) FormatClass {
	if format == "" {
		return FormatGeneral
	}
	if elapsedRE.MatchString(format) {
		return FormatDuration
	}

	state := 0
	var s strings.Builder
	for _, c := range format {
		switch state {
		case 0:
			if c == '"' {
				state = 1
			} else if c == '\\' || c == '_' || c == '*' {
				state = 2
			} else if !formatSkipChars[c] {
				s.WriteRune(c)
			}
		case 1:
			if c == '"' {
				state = 0
			}
		case 2:
			state = 0
		}
	}

	reduced := bracketRE.ReplaceAllString(s.String(), "")
	if nonDateFormats[reduced] {
		if reduced == "@" {
			return FormatText
		}
		if strings.ContainsAny(reduced, "0#?") {
			return FormatNumeric
		}
		return FormatGeneral
	}
	if reduced == "" {
		return FormatGeneral
	}

	var hasDay, hasYear, hasMonthOrMinute, hasClock, hasNum bool
	for _, c := range reduced {
		switch c {
		case 'y', 'Y', 'e', 'E':
			hasYear = true
		case 'd', 'D':
			hasDay = true
		case 'm', 'M':
			hasMonthOrMinute = true
		case 'h', 'H', 's', 'S':
			hasClock = true
		case '0', '#', '?':
			hasNum = true
		}
	}

	if hasNum {
		// A format mixing digits with date letters is a numeric format with
		// literal letters.
		if strings.Contains(reduced, "@") {
			return FormatText
		}
		return FormatNumeric
	}
	if strings.Contains(reduced, "@") {
		return FormatText
	}

	hasDate := hasDay || hasYear
	switch {
	case hasDate && hasClock:
		return FormatDateTime
	case hasDate:
		return FormatDate
	case hasClock:
		return FormatTime
	case hasMonthOrMinute:
		// A bare "m"/"mm" with no other signal is a month, e.g. "mmm".
		return FormatDate
	}
	return FormatGeneral
}

// warningList accumulates cell-level decode warnings. It belongs to the
// Workbook; decoders and cursors share the pointer.
type warningList struct {
	msgs []string
}

func (w *warningList) addf(format string, args ...interface{}) {
	w.msgs = append(w.msgs, fmt.Sprintf(format, args...))
}
