package types

// OffsetSpan is byte range [Start, End) - half-open interval.
type OffsetSpan struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len returns the number of bytes in the span.
func (s OffsetSpan) Len() int64 {
	return s.End - s.Start
}

// SourcePoint is line:column position (1-based).
type SourcePoint struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// SourceSpan is start-end line:column range.
type SourceSpan struct {
	Start SourcePoint `json:"start"`
	End   SourcePoint `json:"end"`
}

// Locate converts a byte span of content into a line:column span.
func Locate(content []byte, span OffsetSpan) SourceSpan {
	sl, sc := ComputeLineColumn(content, int(span.Start))
	el, ec := ComputeLineColumn(content, int(span.End))
	return SourceSpan{
		Start: SourcePoint{Line: sl, Column: sc},
		End:   SourcePoint{Line: el, Column: ec},
	}
}

// ComputeLineColumn computes line and column numbers from a byte offset in content.
// Lines and columns are 1-indexed (first line is 1, first column is 1).
// Offsets past the end of content are clamped to len(content).
func ComputeLineColumn(content []byte, byteOffset int) (line, column int) {
	if byteOffset > len(content) {
		byteOffset = len(content)
	}
	line = 1
	lineStart := 0
	for i := 0; i < byteOffset; i++ {
		if content[i] == '\n' {
			line++
			lineStart = i + 1
		}
	}
	return line, byteOffset - lineStart + 1
}
