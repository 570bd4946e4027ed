package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/pario-ai/qcache/pkg/models"
	"github.com/pario-ai/qcache/pkg/template"
)

const maxLineSize = 1024 * 1024

// CacheStatter provides cache statistics without coupling to the cache
// facade.
type CacheStatter interface {
	Stats(ctx context.Context) (models.CacheStats, error)
}

// Analytics is the read side of the usage analyzer.
type Analytics interface {
	PatternStats(ctx context.Context, limit int) ([]models.PatternStat, error)
	Suggestions(ctx context.Context) ([]models.Suggestion, error)
	Records(ctx context.Context, opts models.LogQueryOpts) ([]models.QueryLogRecord, error)
}

// TemplateMatcher finds the template that answers a question.
type TemplateMatcher interface {
	FindMatching(question string, schema models.Schema) (*template.Template, []string, bool)
}

// Server is a minimal MCP server over stdio. Any of its backends may be nil;
// the matching tools then report that the feature is not configured.
type Server struct {
	cache     CacheStatter
	analytics Analytics
	templates TemplateMatcher
	version   string
	logger    *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for transport failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server.
func New(cache CacheStatter, analytics Analytics, templates TemplateMatcher, version string, opts ...Option) *Server {
	s := &Server{
		cache:     cache,
		analytics: analytics,
		templates: templates,
		version:   version,
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run reads JSON-RPC requests from r line by line and writes responses to w.
// It blocks until r is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, maxLineSize), maxLineSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, Response{
				JSONRPC: jsonrpcVersion,
				Error:   &RPCError{Code: CodeParseError, Message: "parse error"},
			})
			continue
		}

		resp := s.dispatch(ctx, &req)
		if resp == nil {
			continue
		}
		s.writeResponse(w, *resp)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	s.logger.Debug("mcp request", zap.String("method", req.Method))

	switch req.Method {
	case "initialize":
		return result(req, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "qcache", Version: s.version},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return result(req, struct{}{})
	case "tools/list":
		return result(req, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		if len(req.ID) == 0 {
			// unknown notification
			return nil
		}
		return rpcError(req, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpcError(req, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return result(req, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}
	return result(req, handler(ctx, s, params.Arguments))
}

func result(req *Request, v any) *Response {
	return &Response{JSONRPC: jsonrpcVersion, ID: req.ID, Result: v}
}

func rpcError(req *Request, code int, msg string) *Response {
	return &Response{JSONRPC: jsonrpcVersion, ID: req.ID, Error: &RPCError{Code: code, Message: msg}}
}

func (s *Server) writeResponse(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("marshal mcp response", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("write mcp response", zap.Error(err))
	}
}
