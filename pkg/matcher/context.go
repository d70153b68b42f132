package matcher

import "bytes"

// ExtractContext returns the input around a match: before holds the start
// of the match's line plus up to lines preceding lines, after holds the
// rest of the match's last line plus up to lines following lines.
// Both are copies, so keeping them does not pin content in memory.
func ExtractContext(content []byte, start, end, lines int) (before, after []byte) {
	if lines <= 0 || start < 0 || end > len(content) || start > end {
		return nil, nil
	}

	from := lineStart(content, start)
	for i := 0; i < lines && from > 0; i++ {
		from = lineStart(content, from-1)
	}

	to := end
	for i := 0; i <= lines && to < len(content); i++ {
		nl := bytes.IndexByte(content[to:], '\n')
		if nl < 0 {
			to = len(content)
			break
		}
		to += nl + 1
	}

	return bytes.Clone(content[from:start]), bytes.Clone(content[end:to])
}

// lineStart returns the offset of the first byte of the line holding pos.
func lineStart(content []byte, pos int) int {
	return bytes.LastIndexByte(content[:pos], '\n') + 1
}
