// Package yaml provides rule sources backed by YAML rule files, either from a
// directory on disk or from the catalog compiled into the binary.
package yaml

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/vulnguard/internal/domain/rules"
)

// FSSource loads every *.yaml and *.yml file below the root of a file system.
// A file may hold a single rule, a `rules:` list, or several YAML documents of
// either form. Files are read in lexical order.
type FSSource struct {
	name string
	fsys fs.FS
}

var _ rules.Source = (*FSSource)(nil)

// NewFSSource creates a source named name reading from fsys.
func NewFSSource(name string, fsys fs.FS) *FSSource {
	return &FSSource{name: name, fsys: fsys}
}

// NewDirSource creates a source reading rule files below dir.
func NewDirSource(dir string) *FSSource {
	return NewFSSource("dir:"+dir, os.DirFS(dir))
}

// Name implements rules.Source.
func (s *FSSource) Name() string { return s.name }

// Load implements rules.Source. A file that is not valid YAML is rejected as a
// whole; a rule entry that cannot be decoded is rejected individually.
func (s *FSSource) Load(ctx context.Context) (rules.Batch, error) {
	var batch rules.Batch

	err := fs.WalkDir(s.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != "." && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !isRuleFile(p) {
			return nil
		}

		data, err := fs.ReadFile(s.fsys, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}

		defs, rejected := Decode(s.name, p, data)
		batch.Definitions = append(batch.Definitions, defs...)
		batch.Rejected = append(batch.Rejected, rejected...)
		return nil
	})
	if err != nil {
		return rules.Batch{}, fmt.Errorf("load rules from %s: %w", s.name, err)
	}

	return batch, nil
}

func isRuleFile(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Decode parses the rule definitions of one YAML file. origin names the file
// in diagnostics.
func Decode(source, origin string, data []byte) ([]rules.Definition, []*rules.MalformedRuleError) {
	var (
		defs     []rules.Definition
		rejected []*rules.MalformedRuleError
		index    int
	)

	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rejected = append(rejected, rules.NewMalformedRuleError(
				source+":"+origin, "", index, "invalid yaml", err,
			))
			break
		}

		nodes, err := ruleNodes(&doc)
		if err != nil {
			rejected = append(rejected, rules.NewMalformedRuleError(source+":"+origin, "", index, "unexpected document shape", err))
			continue
		}

		for _, n := range nodes {
			var def rules.Definition
			if err := n.Decode(&def); err != nil {
				rejected = append(rejected, rules.NewMalformedRuleError(
					source+":"+origin, idHint(n), index, "cannot decode rule", err,
				))
				index++
				continue
			}
			def.Origin = origin
			defs = append(defs, def)
			index++
		}
	}

	return defs, rejected
}

// ruleNodes returns the rule mappings of a document: the items of a top-level
// `rules` sequence, or the document itself when it is a single rule.
func ruleNodes(doc *yaml.Node) ([]*yaml.Node, error) {
	root := doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil, nil
		}
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping", root.Line)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "rules" {
			continue
		}
		list := root.Content[i+1]
		if list.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("line %d: rules must be a list", list.Line)
		}
		return list.Content, nil
	}

	return []*yaml.Node{root}, nil
}

// idHint extracts the id of a rule node that failed to decode.
func idHint(n *yaml.Node) string {
	if n.Kind != yaml.MappingNode {
		return ""
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == "id" {
			return n.Content[i+1].Value
		}
	}
	return ""
}
