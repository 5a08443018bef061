package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func namespaceProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Namespace inside the index, usually the repository slug",
	}
}

func indexProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Index to read: documents or issues",
		"enum":        []string{"documents", "issues"},
		"default":     "documents",
	}
}

func includeValuesProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "boolean",
		"description": "If true, return the stored embedding vectors",
		"default":     false,
	}
}

// ingestRepositoryTool returns the tool definition for ingest_repository
func ingestRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ingest_repository",
		Description: "Chunk, embed and store every text file of a checked-out repository. Clears the namespace first.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the repository root",
				},
				"namespace": map[string]interface{}{
					"type":        "string",
					"description": "Target namespace (defaults to the directory name)",
				},
				"include": map[string]interface{}{
					"type":        "array",
					"description": "Glob patterns of files to ingest, e.g. **/*.py (defaults to all text files)",
					"items":       map[string]interface{}{"type": "string"},
				},
				"code_only": map[string]interface{}{
					"type":        "boolean",
					"description": "Without include, ingest only common source and documentation files",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// ingestIssuesTool returns the tool definition for ingest_issues
func ingestIssuesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ingest_issues",
		Description: "Fetch all issues of a GitHub repository and store them in the issues index. Clears the namespace first.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"slug": map[string]interface{}{
					"type":        "string",
					"description": "Repository as owner/repo",
				},
				"namespace": map[string]interface{}{
					"type":        "string",
					"description": "Target namespace (defaults to the slug)",
				},
			},
			Required: []string{"slug"},
		},
	}
}

func queryTool(name, description string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language query",
				},
				"namespace": namespaceProperty(),
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of matches to return (1-100)",
					"default":     3,
					"minimum":     1,
					"maximum":     100,
				},
				"include_values": includeValuesProperty(),
			},
			Required: []string{"query", "namespace"},
		},
	}
}

// queryDocumentsTool returns the tool definition for query_documents
func queryDocumentsTool() mcp.Tool {
	return queryTool("query_documents", "Semantic search over repository chunks")
}

// queryIssuesTool returns the tool definition for query_issues
func queryIssuesTool() mcp.Tool {
	return queryTool("query_issues", "Semantic search over issue chunks")
}

// fetchChunksTool returns the tool definition for fetch_chunks
func fetchChunksTool() mcp.Tool {
	return mcp.Tool{
		Name:        "fetch_chunks",
		Description: "Fetch chunks by id (<prefix>-<ordinal>). Missing ids are left out.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"ids": map[string]interface{}{
					"type":        "array",
					"description": "Chunk ids",
					"items":       map[string]interface{}{"type": "string"},
				},
				"namespace":      namespaceProperty(),
				"index":          indexProperty(),
				"include_values": includeValuesProperty(),
			},
			Required: []string{"ids", "namespace"},
		},
	}
}

// fetchChunksByPrefixTool returns the tool definition for fetch_chunks_by_prefix
func fetchChunksByPrefixTool() mcp.Tool {
	return mcp.Tool{
		Name:        "fetch_chunks_by_prefix",
		Description: "Fetch every chunk of one document, ordered by ordinal",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"prefix": map[string]interface{}{
					"type":        "string",
					"description": "Document prefix, e.g. src_app_main.py",
				},
				"namespace": namespaceProperty(),
				"index":     indexProperty(),
			},
			Required: []string{"prefix", "namespace"},
		},
	}
}

// fetchNextChunkTool returns the tool definition for fetch_next_chunk
func fetchNextChunkTool() mcp.Tool {
	return mcp.Tool{
		Name:        "fetch_next_chunk",
		Description: "Fetch the chunk following the given id. Returns found=false after the last chunk.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "Current chunk id",
				},
				"namespace": namespaceProperty(),
				"index":     indexProperty(),
			},
			Required: []string{"id", "namespace"},
		},
	}
}

// listPrefixesTool returns the tool definition for list_prefixes
func listPrefixesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_prefixes",
		Description: "List the distinct document prefixes stored in a namespace",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"namespace": namespaceProperty(),
				"index":     indexProperty(),
			},
			Required: []string{"namespace"},
		},
	}
}

// combineChunksTool returns the tool definition for combine_chunks
func combineChunksTool() mcp.Tool {
	return mcp.Tool{
		Name:        "combine_chunks",
		Description: "Reassemble a document from its chunks within a token budget",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"prefix": map[string]interface{}{
					"type":        "string",
					"description": "Document prefix",
				},
				"namespace": namespaceProperty(),
				"index":     indexProperty(),
				"budget": map[string]interface{}{
					"type":        "integer",
					"description": "Token budget (defaults to the configured reassembly budget)",
					"minimum":     1,
				},
				"seed": map[string]interface{}{
					"type":        "integer",
					"description": "If set, drop chunks farthest from this ordinal until the text fits",
					"minimum":     0,
				},
			},
			Required: []string{"prefix", "namespace"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report ingestion progress, the last run of each index and the active backends",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
