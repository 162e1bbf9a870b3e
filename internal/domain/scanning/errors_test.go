package scanning

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ahrav/vulnguard/internal/domain/shared"
)

func TestFileErrorFrom(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want FileErrorKind
	}{
		{name: "access", err: NewFileAccessError("a.py", fs.ErrPermission), want: FileErrorAccess},
		{name: "wrapped parse", err: fmt.Errorf("matching: %w", NewParseError("a.py", shared.LanguagePython, "syntax error")), want: FileErrorParse},
		{name: "other", err: errors.New("boom"), want: FileErrorMatch},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fe := FileErrorFrom("a.py", tt.err)
			assert.Equal(t, tt.want, fe.Kind)
			assert.Equal(t, "a.py", fe.Path)
			assert.Equal(t, tt.err.Error(), fe.Message)
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, NewFileAccessError("x", fs.ErrNotExist), fs.ErrNotExist)

	cause := errors.New("bad json")
	err := NewCacheCorruptionError(CacheKey{ContentHash: "abcdef0123456789", Fingerprint: "ff"}, cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "abcdef012345@ff")
}
