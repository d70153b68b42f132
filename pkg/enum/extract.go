package enum

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/ledongthuc/pdf"
)

// Extraction defaults, applied when an ExtractLimits field is zero.
const (
	DefaultMaxMembers    = 10000
	DefaultMaxMemberSize = 64 << 20
	DefaultMaxTotalSize  = 256 << 20
)

// ExtractedContent is one member pulled out of a container file.
type ExtractedContent struct {
	Name    string // path within the container, "text" for PDF page text
	Content []byte
}

// ExtractLimits bound the work done on one container. Members over
// MaxMemberSize are skipped; extraction stops at MaxMembers members or
// MaxTotalSize bytes.
type ExtractLimits struct {
	MaxMembers    int
	MaxMemberSize int64
	MaxTotalSize  int64
}

func (l ExtractLimits) withDefaults() ExtractLimits {
	if l.MaxMembers <= 0 {
		l.MaxMembers = DefaultMaxMembers
	}
	if l.MaxMemberSize <= 0 {
		l.MaxMemberSize = DefaultMaxMemberSize
	}
	if l.MaxTotalSize <= 0 {
		l.MaxTotalSize = DefaultMaxTotalSize
	}
	return l
}

// ErrUnsupportedContainer is returned by Extract for file types it cannot
// open.
var ErrUnsupportedContainer = errors.New("unsupported container type")

type extractFunc func(content []byte, limits ExtractLimits) ([]ExtractedContent, error)

// extractors maps an extension to its extractor. Office Open XML files are
// zip archives; every member is returned raw so macros and embedded
// objects are scanned too.
var extractors = map[string]extractFunc{
	"zip":  extractZip,
	"jar":  extractZip,
	"apk":  extractZip,
	"docx": extractZip,
	"docm": extractZip,
	"xlsx": extractZip,
	"xlsm": extractZip,
	"pptx": extractZip,
	"7z":   extract7z,
	"pdf":  extractPDF,
}

// ExtractKinds lists the extensions Extract understands.
func ExtractKinds() []string {
	return []string{"zip", "jar", "apk", "docx", "docm", "xlsx", "xlsm", "pptx", "7z", "pdf"}
}

// ParseExtract validates a comma separated extension list ("zip,7z") or
// "all".
func ParseExtract(kinds string) error {
	if kinds == "" || kinds == "all" {
		return nil
	}
	for _, kind := range strings.Split(kinds, ",") {
		if _, ok := extractors[strings.ToLower(strings.TrimSpace(kind))]; !ok {
			return fmt.Errorf("unknown extract type %q (valid: %s, all)", kind, strings.Join(ExtractKinds(), ", "))
		}
	}
	return nil
}

// extension returns the lower-case extension of path without the dot.
func extension(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// shouldExtract reports whether kinds selects the file type of path.
func shouldExtract(kinds, path string) bool {
	ext := extension(path)
	if _, ok := extractors[ext]; !ok {
		return false
	}
	if kinds == "all" {
		return true
	}
	for _, kind := range strings.Split(strings.ToLower(kinds), ",") {
		if strings.TrimSpace(kind) == ext {
			return true
		}
	}
	return false
}

// Extract returns the members of the container at path, chosen by its
// extension.
func Extract(path string, content []byte, limits ExtractLimits) ([]ExtractedContent, error) {
	fn, ok := extractors[extension(path)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContainer, filepath.Ext(path))
	}
	return fn(content, limits.withDefaults())
}

// member is the part of a zip or 7z entry extraction needs.
type member struct {
	name string
	size uint64
	dir  bool
	open func() (io.ReadCloser, error)
}

// collectMembers reads members in order within limits. Members that fail to
// open or read are skipped.
func collectMembers(members []member, limits ExtractLimits) []ExtractedContent {
	var (
		out   []ExtractedContent
		total int64
	)
	for _, m := range members {
		if len(out) >= limits.MaxMembers {
			break
		}
		if m.dir || m.size > uint64(limits.MaxMemberSize) {
			continue
		}

		rc, err := m.open()
		if err != nil {
			continue
		}
		// Declared sizes can lie.
		data, err := io.ReadAll(io.LimitReader(rc, limits.MaxMemberSize+1))
		rc.Close()
		if err != nil || int64(len(data)) > limits.MaxMemberSize {
			continue
		}

		total += int64(len(data))
		if total > limits.MaxTotalSize {
			break
		}
		out = append(out, ExtractedContent{Name: m.name, Content: data})
	}
	return out
}

func extractZip(content []byte, limits ExtractLimits) ([]ExtractedContent, error) {
	r, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	members := make([]member, 0, len(r.File))
	for _, f := range r.File {
		members = append(members, member{
			name: f.Name,
			size: f.UncompressedSize64,
			dir:  f.FileInfo().IsDir(),
			open: f.Open,
		})
	}
	return collectMembers(members, limits), nil
}

func extract7z(content []byte, limits ExtractLimits) ([]ExtractedContent, error) {
	r, err := sevenzip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to open 7z: %w", err)
	}
	members := make([]member, 0, len(r.File))
	for _, f := range r.File {
		members = append(members, member{
			name: f.Name,
			size: f.UncompressedSize,
			dir:  f.FileInfo().IsDir(),
			open: f.Open,
		})
	}
	return collectMembers(members, limits), nil
}

// extractPDF returns the plain text of every page as one member.
func extractPDF(content []byte, limits ExtractLimits) ([]ExtractedContent, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	var text strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text.WriteString(pageText)
		text.WriteString("\n")
		if int64(text.Len()) > limits.MaxMemberSize {
			break
		}
	}

	if strings.TrimSpace(text.String()) == "" {
		return nil, nil
	}
	data := []byte(text.String())
	if int64(len(data)) > limits.MaxMemberSize {
		data = data[:limits.MaxMemberSize]
	}
	return []ExtractedContent{{Name: "text", Content: data}}, nil
}
