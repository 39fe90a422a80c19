package spread

import (
	"archive/zip"
	"bytes"
	"testing"
)

// buildZip assembles an in-memory zip archive from entry name to content.
func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// collectRows drains a cursor to the end of the sheet.
func collectRows(t *testing.T, cur SheetCursor) []Row {
	t.Helper()
	var rows []Row
	for {
		row, err := cur.Next()
		if err == ErrEndOfSheet {
			return rows
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		rows = append(rows, row)
	}
}
