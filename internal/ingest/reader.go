package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/KaramelBytes/insightloom/internal/apperr"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// sniff candidates, in tie-break order
var delimiterCandidates = []byte{',', ';', '\t', '|'}

// Reader yields rows of a spooled file. It implements analysis.RowSource.
type Reader struct {
	f         *os.File
	cr        *csv.Reader
	header    []string
	delimiter rune
	warnings  []string
	widened   bool
	lastLine  int
}

// Open prepares path for reading. filename decides the delimiter for .tsv;
// other files are sniffed from the header line. Non UTF-8 content is decoded
// as ISO-8859-1.
func Open(path, filename string, isUTF8 bool) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	br := bufio.NewReaderSize(f, 64<<10)
	if head, _ := br.Peek(len(utf8BOM)); bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	rd := &Reader{f: f}

	delim, ok := delimiterByExt[strings.ToLower(filepath.Ext(filename))]
	if !ok || delim != '\t' {
		head, _ := br.Peek(br.Size())
		delim = sniffDelimiter(head)
	}
	rd.delimiter = delim

	var src io.Reader = br
	if !isUTF8 {
		src = charmap.ISO8859_1.NewDecoder().Reader(br)
		rd.warnings = append(rd.warnings, "file is not valid UTF-8; decoded as Latin-1")
	}
	cr := csv.NewReader(src)
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rd.cr = cr

	header, err := cr.Read()
	if err != nil {
		_ = f.Close()
		if errors.Is(err, io.EOF) {
			return nil, apperr.Validation("file", "the uploaded file has no header row")
		}
		return nil, parseError(err, 1)
	}
	rd.header = dedupeHeader(header)
	return rd, nil
}

// Header returns the de-duplicated column names.
func (r *Reader) Header() []string { return r.header }

// Delimiter returns the field separator in use.
func (r *Reader) Delimiter() rune { return r.delimiter }

// Warnings returns decoding notes gathered so far.
func (r *Reader) Warnings() []string { return r.warnings }

// Next returns the next row, padded or cut to the header width.
func (r *Reader) Next() ([]string, error) {
	rec, err := r.cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, parseError(err, r.lastLine+1)
	}
	r.lastLine, _ = r.cr.FieldPos(0)
	switch n := len(r.header); {
	case len(rec) < n:
		rec = append(rec, make([]string, n-len(rec))...)
	case len(rec) > n:
		if !r.widened {
			r.widened = true
			r.warnings = append(r.warnings, fmt.Sprintf("row at line %d has more fields than the header; extra cells ignored", r.lastLine))
		}
		rec = rec[:n]
	}
	return rec, nil
}

// Close releases the file.
func (r *Reader) Close() error { return r.f.Close() }

func parseError(err error, line int) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		line = pe.Line
		err = pe.Err
	}
	return &apperr.ParseError{Line: line, Err: err}
}

// sniffDelimiter picks the most frequent candidate outside quotes on the
// first line; comma when none appear.
func sniffDelimiter(head []byte) rune {
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	counts := make(map[byte]int, len(delimiterCandidates))
	inQuotes := false
	for _, c := range head {
		if c == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[c]++
		}
	}
	best, bestN := byte(','), 0
	for _, c := range delimiterCandidates {
		if counts[c] > bestN {
			best, bestN = c, counts[c]
		}
	}
	return rune(best)
}

// dedupeHeader trims names, names blanks "Unnamed: i" and suffixes repeats
// with ".1", ".2", ... skipping names already taken.
func dedupeHeader(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		out[i] = name
	}
	taken := make(map[string]bool, len(out))
	for _, n := range out {
		taken[n] = true
	}
	used := make(map[string]bool, len(out))
	for i, name := range out {
		if !used[name] {
			used[name] = true
			continue
		}
		k := seen[name]
		var candidate string
		for {
			k++
			candidate = name + "." + strconv.Itoa(k)
			if !taken[candidate] && !used[candidate] {
				break
			}
		}
		seen[name] = k
		out[i] = candidate
		used[candidate] = true
	}
	return out
}
