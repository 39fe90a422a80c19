package spread

import (
	"fmt"
	"math"
	"time"
)

// Date serials count days from a workbook-level epoch. Two epochs exist: the
// 1900 system (Windows default, datemode 0) and the 1904 system (classic Mac
// default, datemode 1). The 1900 system additionally inherits the fictitious
// 1900-02-29: serials 60 and below are counted against a shifted epoch so
// 2021-01-01 still comes out as 44197.
var (
	serialEpoch1904       = time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)
	serialEpoch1900       = time.Date(1899, 12, 31, 0, 0, 0, 0, time.UTC)
	serialEpoch1900Minus1 = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
)

// Serials at or beyond these reach Gregorian year 10000.
const (
	serialTooLarge1900 = 2958466
	serialTooLarge1904 = 2958466 - 1462
)

// serialRangeError marks a serial that cannot be represented as a date in the
// target range. The cell decodes to an error value, never a truncated date.
type serialRangeError struct {
	serial   float64
	datemode int
}

func (e *serialRangeError) Error() string {
	return fmt.Sprintf("date serial %g out of range for datemode %d", e.serial, e.datemode)
}

// serialToDateTime converts a date serial into a calendar value under the
// given datemode (0: 1900-based, 1: 1904-based). Serials below 1.0 are pure
// times of day and resolve onto the epoch date.
func serialToDateTime(serial float64, datemode int) (time.Time, error) {
	if serial < 0 {
		return time.Time{}, &serialRangeError{serial: serial, datemode: datemode}
	}
	tooLarge := float64(serialTooLarge1900)
	if datemode == 1 {
		tooLarge = serialTooLarge1904
	}
	if serial >= tooLarge {
		return time.Time{}, &serialRangeError{serial: serial, datemode: datemode}
	}

	var epoch time.Time
	if datemode == 1 {
		epoch = serialEpoch1904
	} else if serial < 60 {
		epoch = serialEpoch1900
	} else {
		// Skip the nonexistent 1900-02-29 the legacy formats believe in.
		epoch = serialEpoch1900Minus1
	}

	days := int(serial)
	frac := serial - float64(days)

	// Millisecond resolution matches what the formats can round-trip.
	ms := int(math.Round(frac * 86400000.0))
	secs := ms / 1000
	ms %= 1000

	return epoch.AddDate(0, 0, days).
		Add(time.Duration(secs)*time.Second + time.Duration(ms)*time.Millisecond), nil
}

// serialToDuration converts a serial under a Duration classification: the
// value is elapsed time in days, not a calendar position, so 1.5 is 36 hours
// and values beyond 24 hours survive.
func serialToDuration(serial float64) time.Duration {
	return time.Duration(math.Round(serial*86400000.0)) * time.Millisecond
}

// numericCell applies value inference for the Excel-family formats:
// a numeric payload plus its format classification becomes an Int, Float,
// DateTime or Duration. Out-of-range serials degrade to an error value with
// a warning.
func numericCell(v float64, class FormatClass, datemode int, sheet string, warns *warningList) CellValue {
	switch class {
	case FormatDate, FormatTime, FormatDateTime:
		t, err := serialToDateTime(v, datemode)
		if err != nil {
			if warns != nil {
				warns.addf("sheet %q: %v", sheet, err)
			}
			return ErrorValue("#NUM!")
		}
		return DateTimeValue(t)
	case FormatDuration:
		return DurationValue(serialToDuration(v))
	}
	// Integral values under a plain numeric or general format decode as Int;
	// the bounds stay inside the float64-exact integer range.
	if v == math.Trunc(v) && v >= -1e15 && v <= 1e15 {
		return IntValue(int64(v))
	}
	return FloatValue(v)
}
