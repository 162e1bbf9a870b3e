package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		want Language
	}{
		{name: "python", path: "app/server.py", want: LanguagePython},
		{name: "upper case extension", path: "APP.PY", want: LanguagePython},
		{name: "jsx", path: "web/App.jsx", want: LanguageJavaScript},
		{name: "tsx", path: "web/App.tsx", want: LanguageTypeScript},
		{name: "go", path: "cmd/main.go", want: LanguageGo},
		{name: "no extension", path: "Makefile", want: LanguageUnknown},
		{name: "unknown extension", path: "notes.md", want: LanguageUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DetectLanguage(tt.path))
		})
	}
}

func TestParseLanguage(t *testing.T) {
	t.Parallel()

	l, err := ParseLanguage("Python")
	require.NoError(t, err)
	assert.Equal(t, LanguagePython, l)

	l, err = ParseLanguage("golang")
	require.NoError(t, err)
	assert.Equal(t, LanguageGo, l)

	_, err = ParseLanguage("cobol")
	var langErr *LanguageError
	require.ErrorAs(t, err, &langErr)
	assert.Equal(t, "cobol", langErr.Language)
}

func TestLanguageExtensionRoundTrip(t *testing.T) {
	t.Parallel()

	for _, l := range allLanguages {
		assert.Equal(t, l, DetectLanguage("snippet"+l.Extension()), "language %s", l)
	}
	assert.Equal(t, ".txt", LanguageUnknown.Extension())
}
