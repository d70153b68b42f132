// Package serve exposes a rule context over NDJSON: one request object per
// input line, one response object per output line. A host process drives
// compiles, namespace switches and scans the way it would through a
// language binding.
package serve

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/praetorian-inc/trawl"
	"github.com/praetorian-inc/trawl/pkg/logging"
	"github.com/praetorian-inc/trawl/pkg/scanner"
	"github.com/praetorian-inc/trawl/pkg/types"
)

// Version is the server protocol version
const Version = "1.0.0"

// Server manages the streaming scanner
type Server struct {
	core    *scanner.Core
	rules   *trawl.Rules
	encoder *json.Encoder
	decoder *json.Decoder
	logger  zerolog.Logger
}

// NewServer creates a new streaming server
func NewServer(core *scanner.Core, in io.Reader, out io.Writer) *Server {
	return &Server{
		core:    core,
		rules:   core.Rules(),
		encoder: json.NewEncoder(out),
		decoder: json.NewDecoder(bufio.NewReader(in)),
		logger:  logging.Component("serve"),
	}
}

// Run starts the server main loop. It returns nil once the input ends or a
// "close" request arrives.
func (s *Server) Run(ctx context.Context) error {
	s.send(Response{Success: true, Type: "ready"}, ReadyData{Version: Version})

	reqChan := make(chan Request, 1)
	errChan := make(chan error, 1)

	go func() {
		for {
			var req Request
			if err := s.decoder.Decode(&req); err != nil {
				errChan <- err
				return
			}
			select {
			case reqChan <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errChan:
			// Drain any pending requests before handling EOF
			for {
				select {
				case req := <-reqChan:
					if s.processRequest(ctx, req) {
						return nil
					}
				default:
					if err == io.EOF {
						return nil
					}
					s.sendError("decode", err)
					return nil
				}
			}
		case req := <-reqChan:
			if s.processRequest(ctx, req) {
				return nil
			}
		}
	}
}

// processRequest handles a single request and returns true if the server should exit
func (s *Server) processRequest(ctx context.Context, req Request) bool {
	s.logger.Debug().Str("type", req.Type).Msg("request")

	var (
		data any
		err  error
	)
	switch req.Type {
	case TypeCompile:
		data, err = s.handleCompile(req.Payload)
	case TypeSetNamespace:
		data, err = s.handleSetNamespace(req.Payload)
	case TypeNamespaces:
		var names []string
		if names, err = s.rules.Namespaces(); err == nil {
			data = NamespacesData{Namespaces: names}
		}
	case TypeCurrentNamespace:
		var name string
		if name, err = s.rules.CurrentNamespace(); err == nil {
			data = CurrentNamespaceData{Namespace: name}
		}
	case TypeWeight:
		var w int
		if w, err = s.rules.Weight(); err == nil {
			data = WeightData{Weight: w}
		}
	case TypeScan:
		data, err = s.handleScan(req.Payload)
	case TypeScanBatch:
		data, err = s.handleScanBatch(ctx, req.Payload)
	case TypeScanFile:
		data, err = s.handleScanFile(req.Payload)
	case TypeClose:
		return true
	default:
		err = fmt.Errorf("unknown request type: %q", req.Type)
	}

	if err != nil {
		s.sendError(req.Type, err)
		return false
	}
	s.send(Response{Success: true, Type: req.Type}, data)
	return false
}

func decodePayload[T any](raw json.RawMessage) (T, error) {
	var p T
	if len(raw) == 0 {
		return p, errors.New("missing payload")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("invalid payload: %w", err)
	}
	return p, nil
}

func (s *Server) handleCompile(payload json.RawMessage) (any, error) {
	p, err := decodePayload[CompilePayload](payload)
	if err != nil {
		return nil, err
	}

	var ns []string
	if p.Namespace != "" {
		ns = []string{p.Namespace}
	}
	switch {
	case p.Path != "" && p.Source != "":
		return nil, errors.New("compile takes either source or path, not both")
	case p.Path != "":
		err = s.rules.CompileFile(p.Path, ns...)
	default:
		err = s.rules.CompileString(p.Source, ns...)
	}
	if err != nil {
		return nil, err
	}

	names, err := s.rules.Namespaces()
	if err != nil {
		return nil, err
	}
	return NamespacesData{Namespaces: names}, nil
}

func (s *Server) handleSetNamespace(payload json.RawMessage) (any, error) {
	p, err := decodePayload[NamespacePayload](payload)
	if err != nil {
		return nil, err
	}
	if err := s.rules.SetNamespace(p.Name); err != nil {
		return nil, err
	}
	return CurrentNamespaceData{Namespace: p.Name}, nil
}

func (s *Server) handleScan(payload json.RawMessage) (any, error) {
	p, err := decodePayload[ScanPayload](payload)
	if err != nil {
		return nil, err
	}
	content, err := p.bytes()
	if err != nil {
		return nil, err
	}
	return s.core.Scan(content, types.BufferProvenance{Source: p.Source})
}

func (s *Server) handleScanBatch(ctx context.Context, payload json.RawMessage) (any, error) {
	p, err := decodePayload[ScanBatchPayload](payload)
	if err != nil {
		return nil, err
	}
	items, err := p.contentItems()
	if err != nil {
		return nil, err
	}
	return s.core.ScanBatch(ctx, items)
}

func (s *Server) handleScanFile(payload json.RawMessage) (any, error) {
	p, err := decodePayload[ScanFilePayload](payload)
	if err != nil {
		return nil, err
	}
	return s.core.ScanFile(p.Path)
}

func (s *Server) send(resp Response, data any) {
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			s.sendError(resp.Type, fmt.Errorf("encoding response: %w", err))
			return
		}
		resp.Data = raw
	}
	if err := s.encoder.Encode(resp); err != nil {
		s.logger.Error().Err(err).Str("type", resp.Type).Msg("writing response")
	}
}

// sendError reports err, attaching structured details for compile and
// scan errors.
func (s *Server) sendError(reqType string, err error) {
	resp := Response{Success: false, Type: reqType, Error: err.Error()}

	var detail any
	var compileErr *types.CompileError
	var scanErr *types.ScanError
	switch {
	case errors.As(err, &compileErr):
		detail = CompileErrorData{Source: compileErr.Source, Line: compileErr.Line, Message: compileErr.Message}
	case errors.As(err, &scanErr):
		detail = ScanErrorData{Kind: scanErr.Kind.String()}
	}
	if detail != nil {
		resp.Data, _ = json.Marshal(detail)
	}

	if encErr := s.encoder.Encode(resp); encErr != nil {
		s.logger.Error().Err(encErr).Str("type", reqType).Msg("writing response")
	}
}
