package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/repovec-mcp/internal/app"
	"github.com/dshills/repovec-mcp/internal/indexer"
	"github.com/dshills/repovec-mcp/internal/reassembler"
	"github.com/dshills/repovec-mcp/internal/searcher"
	"github.com/dshills/repovec-mcp/internal/source"
	"github.com/dshills/repovec-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound           = -32001 // Repository path or prefix does not exist
	ErrorCodeIndexingInProgress = -32002 // Another ingestion is already running on the index
	ErrorCodeNotIndexed         = -32003 // Nothing stored under the requested prefix
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeOverBudget         = -32005 // Reassembled text exceeds the token budget
	ErrorCodeInvalidMetadata    = -32006 // Stored metadata does not match the index schema
)

const maxTopK = 100

// chunkView is the JSON shape of one result
type chunkView struct {
	ID       string      `json:"id"`
	Score    *float64    `json:"score,omitempty"`
	Text     string      `json:"text"`
	Values   []float32   `json:"values,omitempty"`
	Metadata interface{} `json:"metadata"`
}

func toView(r types.SearchResult) chunkView {
	v := chunkView{ID: r.ID.String(), Score: r.Score, Text: r.Text, Values: r.Values}
	if r.Issue != nil {
		v.Metadata = r.Issue
	} else {
		v.Metadata = r.Code
	}
	return v
}

func toViews(results []types.SearchResult) []chunkView {
	views := make([]chunkView, len(results))
	for i, r := range results {
		views[i] = toView(r)
	}
	return views
}

// handleIngestRepository handles the ingest_repository tool invocation
func (s *Server) handleIngestRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, missingParam("path")
	}
	if err := validatePath(path); err != nil {
		code := ErrorCodeInvalidParams
		if errors.Is(err, ErrPathNotFound) {
			code = ErrorCodeNotFound
		}
		return nil, newMCPError(code, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	namespace := getStringDefault(args, "namespace", filepath.Base(filepath.Clean(path)))
	include := getStringSlice(args, "include")
	codeOnly := getBoolDefault(args, "code_only", false)

	loader, err := s.app.RepoLoader(include, codeOnly)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid include pattern", map[string]interface{}{
			"param":  "include",
			"reason": err.Error(),
		})
	}
	docs, err := loader.Load(ctx, path)
	if err != nil {
		return nil, toMCPError(err, "failed to load repository")
	}

	stats, err := s.app.Documents.Ingester.Run(ctx, namespace, docs)
	if err != nil {
		return nil, ingestError(err, stats)
	}
	return mcp.NewToolResultText(formatJSON(ingestResponse(s.app.Documents, stats))), nil
}

// handleIngestIssues handles the ingest_issues tool invocation
func (s *Server) handleIngestIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	slug, ok := args["slug"].(string)
	if !ok || slug == "" {
		return nil, missingParam("slug")
	}
	if _, _, err := source.ParseSlug(slug); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid slug", map[string]interface{}{
			"param":  "slug",
			"reason": err.Error(),
		})
	}
	namespace := getStringDefault(args, "namespace", slug)

	loader, err := s.app.IssueLoader(ctx)
	if err != nil {
		return nil, toMCPError(err, "failed to create issue loader")
	}
	docs, err := loader.Load(ctx, slug)
	if err != nil {
		return nil, toMCPError(err, "failed to load issues")
	}

	stats, err := s.app.Issues.Ingester.Run(ctx, namespace, docs)
	if err != nil {
		return nil, ingestError(err, stats)
	}
	return mcp.NewToolResultText(formatJSON(ingestResponse(s.app.Issues, stats))), nil
}

func ingestResponse(idx *app.Index, stats *indexer.Statistics) map[string]interface{} {
	response := map[string]interface{}{
		"index":             idx.Name,
		"namespace":         stats.Namespace,
		"run_id":            stats.RunID,
		"documents_indexed": stats.DocumentsIndexed,
		"documents_skipped": stats.DocumentsSkipped,
		"documents_failed":  stats.DocumentsFailed,
		"chunks_created":    stats.ChunksCreated,
		"records_written":   stats.RecordsWritten,
		"duration_ms":       stats.Duration.Milliseconds(),
	}
	if n := len(stats.Failures); n > 0 {
		if n > 5 {
			response["failures"] = stats.Failures[:5]
			response["failure_count"] = n
		} else {
			response["failures"] = stats.Failures
		}
	}
	return response
}

func ingestError(err error, stats *indexer.Statistics) error {
	if errors.Is(err, indexer.ErrIndexingInProgress) {
		return newMCPError(ErrorCodeIndexingInProgress, "ingestion already running on this index", nil)
	}
	var data map[string]interface{}
	if stats != nil {
		data = map[string]interface{}{
			"error":            err.Error(),
			"documents_failed": stats.DocumentsFailed,
			"failures":         stats.Failures,
		}
	}
	return newMCPError(ErrorCodeInternalError, "ingestion failed", data)
}

// handleQuery returns the handler of query_documents or query_issues
func (s *Server) handleQuery(idx *app.Index) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, ok := request.Params.Arguments.(map[string]interface{})
		if !ok {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
		}

		query, ok := args["query"].(string)
		if !ok || query == "" {
			return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
				"param":  "query",
				"reason": "missing or empty",
			})
		}
		namespace, ok := args["namespace"].(string)
		if !ok || namespace == "" {
			return nil, missingParam("namespace")
		}

		topK := getIntDefault(args, "top_k", searcher.DefaultTopK)
		if topK < 1 || topK > maxTopK {
			return nil, newMCPError(ErrorCodeInvalidParams, "top_k must be between 1 and 100", map[string]interface{}{
				"param": "top_k",
				"value": topK,
			})
		}

		results, err := idx.Reader.Query(ctx, searcher.QueryRequest{
			Text:          query,
			TopK:          topK,
			Namespace:     namespace,
			IncludeValues: getBoolDefault(args, "include_values", false),
		})
		if err != nil {
			return nil, toMCPError(err, "query failed")
		}

		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"index":   idx.Name,
			"results": toViews(results),
		})), nil
	}
}

// handleFetchChunks handles the fetch_chunks tool invocation
func (s *Server) handleFetchChunks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, idx, namespace, err := s.readArgs(request)
	if err != nil {
		return nil, err
	}

	if _, present := args["ids"]; !present {
		return nil, missingParam("ids")
	}
	ids := getStringSlice(args, "ids")

	results, err := idx.Reader.FetchByIDs(ctx, ids, namespace, getBoolDefault(args, "include_values", false))
	if err != nil {
		return nil, toMCPError(err, "fetch failed")
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"index":   idx.Name,
		"results": toViews(results),
	})), nil
}

// handleFetchChunksByPrefix handles the fetch_chunks_by_prefix tool invocation
func (s *Server) handleFetchChunksByPrefix(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, idx, namespace, err := s.readArgs(request)
	if err != nil {
		return nil, err
	}

	prefix, ok := args["prefix"].(string)
	if !ok || prefix == "" {
		return nil, missingParam("prefix")
	}

	results, err := idx.Reader.FetchByPrefix(ctx, prefix, namespace)
	if err != nil {
		return nil, toMCPError(err, "fetch failed")
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"index":   idx.Name,
		"prefix":  prefix,
		"results": toViews(results),
	})), nil
}

// handleFetchNextChunk handles the fetch_next_chunk tool invocation
func (s *Server) handleFetchNextChunk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, idx, namespace, err := s.readArgs(request)
	if err != nil {
		return nil, err
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return nil, missingParam("id")
	}

	next, err := idx.Reader.FetchNext(ctx, id, namespace)
	if err != nil {
		return nil, toMCPError(err, "fetch failed")
	}

	response := map[string]interface{}{"index": idx.Name, "found": next != nil}
	if next != nil {
		response["result"] = toView(*next)
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListPrefixes handles the list_prefixes tool invocation
func (s *Server) handleListPrefixes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, idx, namespace, err := s.readArgs(request)
	if err != nil {
		return nil, err
	}

	prefixes, err := idx.Reader.ListPrefixes(ctx, namespace)
	if err != nil {
		return nil, toMCPError(err, "list failed")
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"index":    idx.Name,
		"prefixes": prefixes,
		"count":    len(prefixes),
	})), nil
}

// handleCombineChunks handles the combine_chunks tool invocation
func (s *Server) handleCombineChunks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, idx, namespace, err := s.readArgs(request)
	if err != nil {
		return nil, err
	}

	prefix, ok := args["prefix"].(string)
	if !ok || prefix == "" {
		return nil, missingParam("prefix")
	}
	budget := getIntDefault(args, "budget", s.app.Config.Reassembly.Budget)

	results, err := idx.Reader.FetchByPrefix(ctx, prefix, namespace)
	if err != nil {
		return nil, toMCPError(err, "fetch failed")
	}
	if len(results) == 0 {
		return nil, newMCPError(ErrorCodeNotIndexed, "no chunks stored under prefix", map[string]interface{}{
			"prefix":    prefix,
			"namespace": namespace,
		})
	}

	chunks := make([]types.Chunk, len(results))
	for i := range results {
		chunks[i] = results[i].AsChunk()
	}

	var text string
	kept := chunks
	if _, hasSeed := args["seed"]; hasSeed {
		text, kept, err = s.app.Reassembler.CombineAround(chunks, getIntDefault(args, "seed", 0), budget)
	} else {
		text, err = s.app.Reassembler.Combine(chunks, budget)
	}
	if err != nil {
		return nil, toMCPError(err, "combine failed")
	}

	ordinals := make([]int, len(kept))
	for i, c := range kept {
		ordinals[i] = c.Ordinal
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"index":        idx.Name,
		"prefix":       prefix,
		"text":         text,
		"tokens":       s.app.Tokenizer.Count(text),
		"budget":       budget,
		"ordinals":     ordinals,
		"total_chunks": len(chunks),
	})), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	indexStatus := func(idx *app.Index) map[string]interface{} {
		status := map[string]interface{}{
			"name":     idx.Name,
			"kind":     string(idx.Kind),
			"progress": idx.Ingester.Progress(),
		}
		if last := idx.Ingester.LastRun(); last != nil {
			status["last_run"] = ingestResponse(idx, last)
		}
		return status
	}

	emb := s.app.Embedder
	response := map[string]interface{}{
		"server": map[string]interface{}{
			"name":    ServerName,
			"version": ServerVersion,
		},
		"embedder": map[string]interface{}{
			"provider":  emb.Provider(),
			"model":     emb.Model(),
			"dimension": emb.Dimension(),
		},
		"store":     s.app.Config.Store.Backend,
		"tokenizer": s.app.Tokenizer.Name(),
		"indexes": []map[string]interface{}{
			indexStatus(s.app.Documents),
			indexStatus(s.app.Issues),
		},
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// readArgs extracts the arguments, the index and the required namespace
// shared by the read tools
func (s *Server) readArgs(request mcp.CallToolRequest) (map[string]interface{}, *app.Index, string, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, nil, "", newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	namespace, ok := args["namespace"].(string)
	if !ok || namespace == "" {
		return nil, nil, "", missingParam("namespace")
	}

	idx, err := s.app.IndexFor(getStringDefault(args, "index", ""))
	if err != nil {
		return nil, nil, "", newMCPError(ErrorCodeInvalidParams, "invalid index", map[string]interface{}{
			"param":   "index",
			"reason":  err.Error(),
			"allowed": []string{"documents", "issues"},
		})
	}
	return args, idx, namespace, nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

func missingParam(name string) error {
	return newMCPError(ErrorCodeInvalidParams, name+" parameter is required", map[string]interface{}{
		"param":  name,
		"reason": "missing or empty",
	})
}

// toMCPError maps component errors onto MCP error codes
func toMCPError(err error, message string) error {
	var over *reassembler.OverBudgetError
	switch {
	case errors.As(err, &over):
		return newMCPError(ErrorCodeOverBudget, "text exceeds token budget", map[string]interface{}{
			"tokens": over.Tokens,
			"budget": over.Budget,
		})
	case errors.Is(err, searcher.ErrEmptyQuery):
		return newMCPError(ErrorCodeEmptyQuery, err.Error(), nil)
	case errors.Is(err, types.ErrInvalidMetadata):
		return newMCPError(ErrorCodeInvalidMetadata, message, map[string]interface{}{"error": err.Error()})
	case errors.Is(err, types.ErrInvalidChunkID),
		errors.Is(err, searcher.ErrEmptyPrefix),
		errors.Is(err, reassembler.ErrInvalidBudget),
		errors.Is(err, source.ErrInvalidSlug),
		errors.Is(err, source.ErrNotDirectory):
		return newMCPError(ErrorCodeInvalidParams, message, map[string]interface{}{"reason": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newMCPError(ErrorCodeInternalError, "request cancelled", map[string]interface{}{"error": err.Error()})
	default:
		return newMCPError(ErrorCodeInternalError, message, map[string]interface{}{"error": err.Error()})
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that path is an absolute, readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a response as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok && val != "" {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array; JSON decodes arrays as []interface{}
func getStringSlice(args map[string]interface{}, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
