package yaml

import (
	"embed"
	"io/fs"
)

//go:embed builtin/*.yaml
var builtin embed.FS

// BuiltinSourceName names the catalog shipped with the binary.
const BuiltinSourceName = "builtin"

// NewEmbeddedSource returns a source serving the built-in rule catalog.
func NewEmbeddedSource() *FSSource {
	sub, err := fs.Sub(builtin, "builtin")
	if err != nil {
		// The directory is part of the embed pattern and always present.
		panic(err)
	}
	return NewFSSource(BuiltinSourceName, sub)
}
