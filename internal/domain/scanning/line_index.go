package scanning

import "sort"

// LineIndex maps byte offsets of a file to 1-based line and column numbers.
// It is built once per file and shared by every finding in that file.
type LineIndex struct {
	starts []int // byte offset of the first byte of each line
	size   int
}

// NewLineIndex indexes the line starts of content.
func NewLineIndex(content []byte) *LineIndex {
	starts := make([]int, 1, 64)
	for i, b := range content {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{starts: starts, size: len(content)}
}

// LineCount returns the number of lines in the file. An empty file has one
// empty line.
func (li *LineIndex) LineCount() int { return len(li.starts) }

// Position converts offset to a 1-based line and column. Columns count bytes.
// Offsets outside the content are clamped.
func (li *LineIndex) Position(offset int) (line, column int) {
	if offset < 0 {
		offset = 0
	}
	if offset > li.size {
		offset = li.size
	}
	// The line is the last start that is <= offset.
	idx := sort.Search(len(li.starts), func(i int) bool { return li.starts[i] > offset }) - 1
	return idx + 1, offset - li.starts[idx] + 1
}

// LineBounds returns the byte range [start, end) of the given 1-based line,
// excluding the trailing newline.
func (li *LineIndex) LineBounds(line int) (start, end int) {
	if line < 1 {
		line = 1
	}
	if line > len(li.starts) {
		line = len(li.starts)
	}
	start = li.starts[line-1]
	if line < len(li.starts) {
		end = li.starts[line] - 1
	} else {
		end = li.size
	}
	return start, end
}
