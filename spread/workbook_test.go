package spread

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenBytesUnknownSignature(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("just,a,csv\n1,2,3\n")},
		{"pdf", []byte("%PDF-1.7 ...")},
		{"short", []byte{0xD0}},
	}
	for _, tt := range tests {
		_, err := OpenBytes(tt.data)
		var unsupported *UnsupportedFormatError
		require.ErrorAs(t, err, &unsupported, tt.name)
	}
}

func TestOpenBytesZipWithoutWorkbook(t *testing.T) {
	data := buildZip(t, map[string]string{"readme.txt": "nothing here"})
	_, err := OpenBytes(data)
	var unsupported *UnsupportedFormatError
	require.ErrorAs(t, err, &unsupported)
}

func TestOpenBytesCorruptZip(t *testing.T) {
	data := append([]byte("PK\x03\x04"), []byte("garbage that is not a central directory")...)
	_, err := OpenBytes(data)
	var malformed *MalformedContainerError
	require.ErrorAs(t, err, &malformed)
}

func TestOpenFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.xlsx")
	require.NoError(t, os.WriteFile(path, xlsxFixture(t), 0o644))

	wb, err := Open(path)
	require.NoError(t, err)
	defer wb.Close()
	require.Equal(t, FormatXLSX, wb.Format())
	require.Equal(t, 2, wb.SheetCount())
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.xlsx"))
	require.Error(t, err)
}

func TestCloseIdempotent(t *testing.T) {
	wb, err := OpenBytes(xlsxFixture(t))
	require.NoError(t, err)
	require.NoError(t, wb.Close())
	require.NoError(t, wb.Close())
}

func TestWarningsAreACopy(t *testing.T) {
	wb, err := OpenBytes(xlsxFixture(t))
	require.NoError(t, err)
	defer wb.Close()

	w1 := wb.Warnings()
	cur, err := wb.OpenSheetAt(1) // provokes a bad shared-string warning
	require.NoError(t, err)
	collectRows(t, cur)

	w2 := wb.Warnings()
	require.Greater(t, len(w2), len(w1))
}

func TestCursorCloseEarly(t *testing.T) {
	wb, err := OpenBytes(xlsxFixture(t))
	require.NoError(t, err)
	defer wb.Close()

	cur, err := wb.OpenSheet("Data")
	require.NoError(t, err)
	_, err = cur.Next()
	require.NoError(t, err)
	require.NoError(t, cur.Close())

	_, err = cur.Next()
	require.ErrorIs(t, err, ErrEndOfSheet)
}
