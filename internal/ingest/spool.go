// Package ingest accepts uploaded delimited-text files: it validates them,
// spools them to disk, decodes them into rows and runs aggregation on a
// bounded worker pool.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/KaramelBytes/insightloom/internal/apperr"
	"github.com/KaramelBytes/insightloom/internal/utils"
)

// DefaultMaxBytes is the upload cap when none is configured.
const DefaultMaxBytes = 10 << 20

var delimiterByExt = map[string]rune{
	".csv": ',',
	".tsv": '\t',
}

// Validate checks the filename and declared size. A negative size means the
// size is unknown and is enforced while spooling instead.
func Validate(filename string, size, maxBytes int64) error {
	if strings.TrimSpace(filename) == "" {
		return apperr.Validation("file", "no file provided, please upload a CSV file")
	}
	if _, ok := delimiterByExt[strings.ToLower(filepath.Ext(filename))]; !ok {
		return apperr.Validation("file", "invalid file type, only .csv and .tsv files are accepted")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if size > maxBytes {
		return TooLarge(maxBytes)
	}
	if size == 0 {
		return apperr.Validation("file", "the uploaded file is empty")
	}
	return nil
}

// TooLarge is the validation error for uploads over maxBytes.
func TooLarge(maxBytes int64) error {
	return apperr.Validation("file", "file too large, maximum size is %d MB", maxBytes>>20)
}

// Upload is a spooled file awaiting analysis.
type Upload struct {
	ID       string
	Filename string
	Path     string
	Size     int64
	// Digest is the hex sha256 of the content.
	Digest string
	// UTF8 is false when the content is not valid UTF-8.
	UTF8 bool
}

// Spool copies r into dir/<uuid><ext>, hashing and checking UTF-8 validity as
// it goes. More than maxBytes of input is a ValidationError.
func Spool(dir, filename string, r io.Reader, maxBytes int64) (*Upload, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	id := uuid.NewString()
	path := filepath.Join(dir, id+strings.ToLower(filepath.Ext(filename)))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	h := sha256.New()
	v := &utf8Validator{valid: true}
	n, copyErr := io.Copy(io.MultiWriter(f, h, v), io.LimitReader(r, maxBytes+1))
	closeErr := f.Close()

	fail := func(err error) (*Upload, error) {
		_ = os.Remove(path)
		return nil, err
	}
	switch {
	case copyErr != nil:
		return fail(fmt.Errorf("spool upload: %w", copyErr))
	case closeErr != nil:
		return fail(fmt.Errorf("spool upload: %w", closeErr))
	case n > maxBytes:
		return fail(TooLarge(maxBytes))
	case n == 0:
		return fail(apperr.Validation("file", "the uploaded file is empty"))
	}
	return &Upload{
		ID:       id,
		Filename: filepath.Base(filename),
		Path:     path,
		Size:     n,
		Digest:   hex.EncodeToString(h.Sum(nil)),
		UTF8:     v.done(),
	}, nil
}

// Discard removes the spooled file.
func (u *Upload) Discard() error {
	if err := os.Remove(u.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// utf8Validator checks a byte stream incrementally; a rune may straddle writes.
type utf8Validator struct {
	valid bool
	carry []byte
}

func (v *utf8Validator) Write(p []byte) (int, error) {
	if !v.valid {
		return len(p), nil
	}
	buf := p
	if len(v.carry) > 0 {
		buf = append(v.carry, p...)
		v.carry = nil
	}
	for len(buf) > 0 {
		r, size := utf8.DecodeRune(buf)
		if r == utf8.RuneError && size <= 1 {
			if !utf8.FullRune(buf) {
				v.carry = append([]byte(nil), buf...)
				break
			}
			v.valid = false
			break
		}
		buf = buf[size:]
	}
	return len(p), nil
}

func (v *utf8Validator) done() bool {
	return v.valid && len(v.carry) == 0
}
