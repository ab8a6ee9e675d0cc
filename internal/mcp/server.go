// Package mcp exposes vectorizer status as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/helixml/vecsync/application/service"
	"github.com/helixml/vecsync/domain/repository"
	"github.com/helixml/vecsync/domain/vectorizer"
)

// DefaultErrorLimit is the number of error log entries vectorizer_errors
// returns when limit is not set.
const DefaultErrorLimit = 20

// VectorizerLister lists vectorizers and their error logs.
type VectorizerLister interface {
	List(ctx context.Context, options ...repository.Option) ([]vectorizer.Vectorizer, error)
	Errors(ctx context.Context, id int64, limit int) ([]vectorizer.ErrorRecord, error)
}

// StatusReader reports queue depth and record counts.
type StatusReader interface {
	Describe(ctx context.Context, id int64, exact bool) (service.VectorizerStatus, error)
	All(ctx context.Context, exact bool) ([]service.VectorizerStatus, error)
}

// Server wraps the MCP server with vectorizer status tools.
type Server struct {
	mcpServer   *server.MCPServer
	vectorizers VectorizerLister
	status      StatusReader
	logger      *slog.Logger
}

// NewServer creates a new MCP server with the given dependencies.
func NewServer(vectorizers VectorizerLister, status StatusReader, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		vectorizers: vectorizers,
		status:      status,
		logger:      logger,
	}

	mcpServer := server.NewMCPServer(
		"vecsync",
		version,
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)

	s.mcpServer = mcpServer
	return s
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("list_vectorizers",
		mcp.WithDescription("List every vectorizer with its source table, store table, embedding model and state"),
	), s.handleListVectorizers)

	mcpServer.AddTool(mcp.NewTool("vectorizer_status",
		mcp.WithDescription("Report pending queue items and stored embedding records. Omit id for all vectorizers."),
		mcp.WithNumber("id",
			mcp.Description("Vectorizer id"),
		),
		mcp.WithBoolean("exact",
			mcp.Description("Count the whole queue instead of stopping at the cap (slower on large queues)"),
		),
	), s.handleStatus)

	mcpServer.AddTool(mcp.NewTool("vectorizer_errors",
		mcp.WithDescription("Show the most recent errors recorded for a vectorizer"),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Vectorizer id"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum entries to return (default: 20)"),
		),
	), s.handleErrors)
}

type vectorizerResult struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	SourceTable string     `json:"source_table"`
	StoreTable  string     `json:"store_table"`
	View        string     `json:"view"`
	Provider    string     `json:"provider"`
	Model       string     `json:"model"`
	Dimensions  int        `json:"dimensions"`
	Disabled    bool       `json:"disabled"`
	Failure     string     `json:"failure,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
}

type statusResult struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Active  bool   `json:"active"`
	Pending int64  `json:"pending"`
	Capped  bool   `json:"capped"`
	Records int64  `json:"records"`
}

type errorResult struct {
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

func (s *Server) handleListVectorizers(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vectorizers, err := s.vectorizers.List(ctx)
	if err != nil {
		s.logger.Error("list vectorizers failed", slog.Any("error", err))
		return mcp.NewToolResultError(fmt.Sprintf("list vectorizers failed: %v", err)), nil
	}

	results := make([]vectorizerResult, len(vectorizers))
	for i, v := range vectorizers {
		emb := v.Config().Embedding
		results[i] = vectorizerResult{
			ID:          v.ID(),
			Name:        v.Name(),
			SourceTable: v.SourceTable(),
			StoreTable:  v.StoreTable(),
			View:        v.ViewName(),
			Provider:    emb.Implementation(),
			Model:       emb.Settings().Model,
			Dimensions:  v.Dimensions(),
			Disabled:    v.Disabled(),
			Failure:     v.Failure(),
			FailedAt:    v.FailedAt(),
		}
	}
	return jsonResult(results)
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	exact := request.GetBool("exact", false)

	var statuses []service.VectorizerStatus
	if id := request.GetInt("id", 0); id > 0 {
		st, err := s.status.Describe(ctx, int64(id), exact)
		if err != nil {
			return s.toolError("vectorizer status", int64(id), err), nil
		}
		statuses = append(statuses, st)
	} else {
		all, err := s.status.All(ctx, exact)
		if err != nil {
			return s.toolError("vectorizer status", 0, err), nil
		}
		statuses = all
	}

	results := make([]statusResult, len(statuses))
	for i, st := range statuses {
		results[i] = statusResult{
			ID:      st.Vectorizer.ID(),
			Name:    st.Vectorizer.Name(),
			Active:  st.Vectorizer.Active(),
			Pending: st.Pending,
			Capped:  st.Capped,
			Records: st.Records,
		}
	}
	return jsonResult(results)
}

func (s *Server) handleErrors(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireInt("id")
	if err != nil || id < 1 {
		return mcp.NewToolResultError("id is required"), nil
	}
	limit := request.GetInt("limit", DefaultErrorLimit)
	if limit < 1 {
		limit = DefaultErrorLimit
	}

	records, err := s.vectorizers.Errors(ctx, int64(id), limit)
	if err != nil {
		return s.toolError("vectorizer errors", int64(id), err), nil
	}

	results := make([]errorResult, len(records))
	for i, rec := range records {
		results[i] = errorResult{
			Message:    rec.Message(),
			Details:    rec.Details(),
			RecordedAt: rec.RecordedAt(),
		}
	}
	return jsonResult(results)
}

// toolError reports err to the caller. Lookups of unknown vectorizers are
// expected and not logged.
func (s *Server) toolError(op string, id int64, err error) *mcp.CallToolResult {
	if errors.Is(err, vectorizer.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("vectorizer %d not found", id))
	}
	s.logger.Error(op+" failed", slog.Int64("vectorizer_id", id), slog.Any("error", err))
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio runs the MCP server on stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
