package types

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompileError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *CompileError
		want string
	}{
		{
			name: "from file",
			err:  &CompileError{Source: "rules/web.yar", Line: 12, Message: `undefined string "$b"`},
			want: `syntax error - rules/web.yar(12): undefined string "$b"`,
		},
		{
			name: "from string",
			err:  &CompileError{Line: 3, Message: "unexpected end of input"},
			want: "syntax error - line(3): unexpected end of input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestCompileError_Unwrap(t *testing.T) {
	err := &CompileError{Source: "missing.yar", Message: "no such file", Err: fs.ErrNotExist}
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestScanError_IsByKind(t *testing.T) {
	err := NewScanError(ScanFileNotFound, fs.ErrNotExist, "could not open file: '%s'", "/tmp/x")

	assert.True(t, errors.Is(err, ErrFileNotFound))
	assert.False(t, errors.Is(err, ErrFileUnreadable))
	assert.False(t, errors.Is(err, ErrInputTooLarge))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Equal(t, "could not open file: '/tmp/x'", err.Error())

	wrapped := fmt.Errorf("scanning: %w", err)
	assert.True(t, errors.Is(wrapped, ErrFileNotFound))

	var se *ScanError
	assert.True(t, errors.As(wrapped, &se))
	assert.Equal(t, ScanFileNotFound, se.Kind)
}

func TestScanErrorKind_String(t *testing.T) {
	assert.Equal(t, "FileNotFound", ScanFileNotFound.String())
	assert.Equal(t, "FileUnreadable", ScanFileUnreadable.String())
	assert.Equal(t, "ScanFailure", ScanFailure.String())
	assert.Equal(t, "InputTooLarge", ScanInputTooLarge.String())
	assert.Equal(t, "InputTooLarge", ErrInputTooLarge.Error())
}
