package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openspread/spread-go/spread"
)

const defaultSheetDelimiter = "--------"

var version = "dev"

type quotingMode int

const (
	quotingNone quotingMode = iota
	quotingMinimal
	quotingNonNumeric
	quotingAll
)

type options struct {
	allSheets       bool
	sheetID         int
	sheetName       string
	delimiter       rune
	sheetDelimiter  string
	quoting         quotingMode
	dateFormat      string
	floatFormat     string
	ignoreEmpty     bool
	includePatterns []*regexp.Regexp
	excludePatterns []*regexp.Regexp
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	var (
		allSheets      bool
		sheetID        int
		sheetName      string
		delimiterFlag  string
		sheetDelimiter string
		quotingFlag    string
		dateFormat     string
		floatFormat    string
		ignoreEmpty    bool
		includeRaw     []string
		excludeRaw     []string
	)

	cmd := &cobra.Command{
		Use:   "spread2csv <workbook> [outfile]",
		Short: "Convert spreadsheet files (xls, xlsx, xlsb, ods) to CSV",
		Long: `spread2csv decodes a spreadsheet workbook in any supported container
format and writes its cell values as CSV. The format is detected from the
file's signature, never from its extension.`,
		Version: version,
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sheetName != "" && (allSheets || sheetID >= 0) {
				return fmt.Errorf("cannot combine --sheetname with --sheet or --all")
			}

			delimiter, err := parseDelimiter(delimiterFlag)
			if err != nil {
				return fmt.Errorf("invalid delimiter: %w", err)
			}
			quoting, err := parseQuoting(quotingFlag)
			if err != nil {
				return err
			}
			include, err := compilePatterns(includeRaw)
			if err != nil {
				return fmt.Errorf("invalid include pattern: %w", err)
			}
			exclude, err := compilePatterns(excludeRaw)
			if err != nil {
				return fmt.Errorf("invalid exclude pattern: %w", err)
			}

			opts := options{
				allSheets:       allSheets || sheetID == 0,
				sheetID:         sheetID,
				sheetName:       sheetName,
				delimiter:       delimiter,
				sheetDelimiter:  sheetDelimiter,
				quoting:         quoting,
				dateFormat:      dateFormat,
				floatFormat:     floatFormat,
				ignoreEmpty:     ignoreEmpty,
				includePatterns: include,
				excludePatterns: exclude,
			}

			outPath := ""
			if len(args) > 1 {
				outPath = args[1]
			}
			return convert(args[0], outPath, opts, stdout, cmd.ErrOrStderr())
		},
		SilenceUsage: true,
	}

	cmd.Flags().BoolVarP(&allSheets, "all", "a", false, "export all sheets")
	cmd.Flags().IntVarP(&sheetID, "sheet", "s", -1, "sheet number to convert (1-based), 0 for all")
	cmd.Flags().StringVarP(&sheetName, "sheetname", "n", "", "sheet name to convert")
	cmd.Flags().StringVarP(&delimiterFlag, "delimiter", "d", ",", "column delimiter, 'tab' or 'x09' for a tab")
	cmd.Flags().StringVarP(&sheetDelimiter, "sheetdelimiter", "p", defaultSheetDelimiter, "separator line between sheets, '' for none")
	cmd.Flags().StringVarP(&quotingFlag, "quoting", "q", "minimal", "field quoting: none, minimal, nonnumeric or all")
	cmd.Flags().StringVarP(&dateFormat, "dateformat", "f", "", "override date/time format (ex. %Y/%m/%d)")
	cmd.Flags().StringVar(&floatFormat, "floatformat", "", "override float format (ex. %.15f)")
	cmd.Flags().BoolVarP(&ignoreEmpty, "ignoreempty", "i", false, "skip empty rows")
	cmd.Flags().StringArrayVarP(&includeRaw, "include-sheet-pattern", "I", nil, "only include sheets matching the pattern (with --all)")
	cmd.Flags().StringArrayVarP(&excludeRaw, "exclude-sheet-pattern", "E", nil, "exclude sheets matching the pattern (with --all)")

	return cmd
}

func convert(inputPath, outPath string, opts options, stdout, stderr io.Writer) error {
	wb, err := spread.Open(inputPath)
	if err != nil {
		return err
	}
	defer wb.Close()

	indexes, err := selectSheets(wb, opts)
	if err != nil {
		return err
	}

	var w io.Writer = stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	bw := bufio.NewWriter(w)
	if err := writeSheets(bw, wb, indexes, opts); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	for _, warning := range wb.Warnings() {
		fmt.Fprintln(stderr, "warning:", warning)
	}
	return nil
}

func selectSheets(wb *spread.Workbook, opts options) ([]int, error) {
	names := wb.SheetNames()

	if opts.sheetName != "" {
		for i, name := range names {
			if name == opts.sheetName {
				return []int{i}, nil
			}
		}
		return nil, fmt.Errorf("sheet %s not found", opts.sheetName)
	}

	if opts.allSheets {
		indexes := make([]int, 0, len(names))
		for i, name := range names {
			if !matchPatterns(name, opts.includePatterns, opts.excludePatterns) {
				continue
			}
			indexes = append(indexes, i)
		}
		if len(indexes) == 0 {
			return nil, fmt.Errorf("no sheets matched selection")
		}
		return indexes, nil
	}

	if opts.sheetID > 0 {
		index := opts.sheetID - 1
		if index >= len(names) {
			return nil, fmt.Errorf("sheet index %d out of range", opts.sheetID)
		}
		return []int{index}, nil
	}

	if len(names) == 0 {
		return nil, fmt.Errorf("no sheets found")
	}
	return []int{0}, nil
}

func matchPatterns(name string, include, exclude []*regexp.Regexp) bool {
	if len(include) > 0 {
		matched := false
		for _, re := range include {
			if re.MatchString(name) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, re := range exclude {
		if re.MatchString(name) {
			return false
		}
	}
	return true
}

func writeSheets(w io.Writer, wb *spread.Workbook, indexes []int, opts options) error {
	for i, index := range indexes {
		if i > 0 && opts.sheetDelimiter != "" {
			if _, err := fmt.Fprintln(w, opts.sheetDelimiter); err != nil {
				return err
			}
		}
		if err := writeSheet(w, wb, index, opts); err != nil {
			return err
		}
	}
	return nil
}

// writeSheet streams one sheet through a fresh cursor. Row gaps in the source
// come out as empty CSV lines so row positions survive the conversion.
func writeSheet(w io.Writer, wb *spread.Workbook, index int, opts options) error {
	cur, err := wb.OpenSheetAt(index)
	if err != nil {
		return err
	}
	defer cur.Close()

	next := 0
	for {
		row, err := cur.Next()
		if err == spread.ErrEndOfSheet {
			return nil
		}
		if err != nil {
			return err
		}
		if !opts.ignoreEmpty {
			for ; next < row.Index; next++ {
				if _, err := io.WriteString(w, "\n"); err != nil {
					return err
				}
			}
		}
		next = row.Index + 1
		if opts.ignoreEmpty && len(row.Cells) == 0 {
			continue
		}
		if err := writeRow(w, row.Cells, opts); err != nil {
			return err
		}
	}
}

func writeRow(w io.Writer, cells []spread.CellValue, opts options) error {
	var buf bytes.Buffer
	for i, cell := range cells {
		if i > 0 {
			buf.WriteRune(opts.delimiter)
		}
		buf.WriteString(formatField(cell, opts))
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func formatField(cell spread.CellValue, opts options) string {
	text := formatCell(cell, opts)
	if !needsQuote(cell, text, opts) {
		return text
	}
	return `"` + strings.ReplaceAll(text, `"`, `""`) + `"`
}

func formatCell(cell spread.CellValue, opts options) string {
	switch cell.Kind() {
	case spread.KindFloat:
		if opts.floatFormat != "" {
			return fmt.Sprintf(opts.floatFormat, cell.Float())
		}
	case spread.KindDateTime:
		if opts.dateFormat != "" {
			return strftime(cell.DateTime(), opts.dateFormat)
		}
	}
	return cell.String()
}

func needsQuote(cell spread.CellValue, text string, opts options) bool {
	switch opts.quoting {
	case quotingAll:
		return true
	case quotingNonNumeric:
		return cell.Kind() != spread.KindInt && cell.Kind() != spread.KindFloat
	case quotingMinimal:
		return strings.ContainsRune(text, opts.delimiter) || strings.ContainsAny(text, "\"\r\n")
	default:
		return false
	}
}

func parseDelimiter(value string) (rune, error) {
	switch strings.ToLower(value) {
	case "tab", "x09":
		return '\t', nil
	}
	if value == "" {
		return 0, fmt.Errorf("delimiter cannot be empty")
	}
	if strings.HasPrefix(value, "x") && len(value) == 3 {
		decoded, err := strconv.ParseUint(value[1:], 16, 8)
		if err != nil {
			return 0, err
		}
		return rune(decoded), nil
	}
	return []rune(value)[0], nil
}

func parseQuoting(value string) (quotingMode, error) {
	switch strings.ToLower(value) {
	case "none":
		return quotingNone, nil
	case "minimal":
		return quotingMinimal, nil
	case "nonnumeric":
		return quotingNonNumeric, nil
	case "all":
		return quotingAll, nil
	default:
		return quotingMinimal, fmt.Errorf("unsupported quoting: %s", value)
	}
}

func compilePatterns(values []string) ([]*regexp.Regexp, error) {
	if len(values) == 0 {
		return nil, nil
	}
	patterns := make([]*regexp.Regexp, 0, len(values))
	for _, value := range values {
		re, err := regexp.Compile(value)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}

// strftime renders t with the strftime directives the original converters
// accept, so existing invocations keep working.
func strftime(t time.Time, format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i+1 >= len(format) {
			b.WriteByte(format[i])
			continue
		}
		i++
		switch format[i] {
		case '%':
			b.WriteByte('%')
		case 'Y':
			b.WriteString(t.Format("2006"))
		case 'y':
			b.WriteString(t.Format("06"))
		case 'm':
			b.WriteString(t.Format("01"))
		case 'd':
			b.WriteString(t.Format("02"))
		case 'H':
			b.WriteString(t.Format("15"))
		case 'M':
			b.WriteString(t.Format("04"))
		case 'S':
			b.WriteString(t.Format("05"))
		case 'b':
			b.WriteString(t.Format("Jan"))
		case 'B':
			b.WriteString(t.Format("January"))
		case 'a':
			b.WriteString(t.Format("Mon"))
		case 'A':
			b.WriteString(t.Format("Monday"))
		default:
			b.WriteByte('%')
			b.WriteByte(format[i])
		}
	}
	return b.String()
}
