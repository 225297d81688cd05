package apperr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{Validation("file", "empty"), "validation"},
		{&ParseError{Line: 3, Err: io.ErrUnexpectedEOF}, "parse"},
		{&LLMError{Op: "insights", Attempts: 3, Err: errors.New("503")}, "llm"},
		{&LLMConfigError{Err: errors.New("401")}, "llm_config"},
		{NotFound("abc"), "not_found"},
		{fmt.Errorf("wrapped: %w", &PersistenceError{Op: "insert", Err: errors.New("disk")}), "persistence"},
		{errors.New("boom"), "internal"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Kind(c.err), "%v", c.err)
	}
}

func TestUnwrapChains(t *testing.T) {
	pe := &ParseError{Line: 7, Err: io.ErrUnexpectedEOF}
	assert.ErrorIs(t, pe, io.ErrUnexpectedEOF)
	assert.Contains(t, pe.Error(), "line 7")

	le := &LLMError{Op: "follow-up", Attempts: 3, Err: io.EOF}
	assert.ErrorIs(t, le, io.EOF)
	assert.Contains(t, le.Error(), "after 3 attempts")

	assert.True(t, IsNotFound(fmt.Errorf("get: %w", NotFound("x"))))
	assert.False(t, IsNotFound(errors.New("x")))
}
