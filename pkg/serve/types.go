package serve

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/praetorian-inc/trawl/pkg/scanner"
)

// Request types.
const (
	TypeCompile          = "compile"
	TypeSetNamespace     = "set_namespace"
	TypeNamespaces       = "namespaces"
	TypeCurrentNamespace = "current_namespace"
	TypeWeight           = "weight"
	TypeScan             = "scan"
	TypeScanBatch        = "scan_batch"
	TypeScanFile         = "scan_file"
	TypeClose            = "close"
)

// Request represents an incoming NDJSON request
type Request struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// CompilePayload compiles either inline rule text or a rule file. The
// namespace applies to this compile only.
type CompilePayload struct {
	Source    string `json:"source,omitempty"`
	Path      string `json:"path,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// NamespacePayload is the payload for "set_namespace" requests
type NamespacePayload struct {
	Name string `json:"name"`
}

// ScanPayload is the payload for "scan" requests. Content is taken as
// text unless Encoding is "base64".
type ScanPayload struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"`
	Source   string `json:"source"`
}

func (p ScanPayload) bytes() ([]byte, error) {
	return decodeContent(p.Content, p.Encoding)
}

// BatchItem is one entry of a "scan_batch" request.
type BatchItem struct {
	ScanPayload
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ScanBatchPayload is the payload for "scan_batch" requests
type ScanBatchPayload struct {
	Items []BatchItem `json:"items"`
}

func (p ScanBatchPayload) contentItems() ([]scanner.ContentItem, error) {
	items := make([]scanner.ContentItem, len(p.Items))
	for i, it := range p.Items {
		content, err := it.bytes()
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items[i] = scanner.ContentItem{Source: it.Source, Content: content, Metadata: it.Metadata}
	}
	return items, nil
}

// ScanFilePayload is the payload for "scan_file" requests
type ScanFilePayload struct {
	Path string `json:"path"`
}

func decodeContent(content, encoding string) ([]byte, error) {
	switch encoding {
	case "", "text":
		return []byte(content), nil
	case "base64":
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("decoding content: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown content encoding %q (valid: text, base64)", encoding)
	}
}

// Response represents an outgoing NDJSON response
type Response struct {
	Success bool            `json:"success"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ReadyData is the data field for "ready" responses
type ReadyData struct {
	Version string `json:"version"`
}

// CompileErrorData accompanies a failed compile.
type CompileErrorData struct {
	Source  string `json:"source,omitempty"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// NamespacesData answers "namespaces".
type NamespacesData struct {
	Namespaces []string `json:"namespaces"`
}

// CurrentNamespaceData answers "current_namespace" and "set_namespace".
type CurrentNamespaceData struct {
	Namespace string `json:"namespace"`
}

// WeightData answers "weight".
type WeightData struct {
	Weight int `json:"weight"`
}

// ScanErrorData accompanies a failed scan.
type ScanErrorData struct {
	Kind string `json:"kind"`
}
