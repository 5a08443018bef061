// Package mcp implements the Model Context Protocol (MCP) server for repovec.
//
// The server exposes the ingestion and retrieval operations as tools:
//   - ingest_repository: chunk, embed and store a checked-out repository
//   - ingest_issues: the same for the issues of a GitHub repository
//   - query_documents, query_issues: semantic search
//   - fetch_chunks, fetch_chunks_by_prefix, fetch_next_chunk: exact retrieval
//   - list_prefixes: document prefixes stored in a namespace
//   - combine_chunks: reassemble a document within a token budget
//   - get_status: progress and last run of each index
//
// Read tools take an "index" argument ("documents" or "issues") and a
// namespace. Results carry the chunk id, its text and the metadata of the
// index's schema:
//
//	Request:
//	{
//	  "name": "fetch_next_chunk",
//	  "arguments": {"id": "src_app_main.py-3", "namespace": "owner/repo"}
//	}
//
//	Response:
//	{
//	  "found": true,
//	  "index": "documents",
//	  "result": {
//	    "id": "src_app_main.py-4",
//	    "text": "...",
//	    "metadata": {"file_path": "src/app/main.py", "chunk_index": 4, ...}
//	  }
//	}
//
// Errors are returned as MCPError values with JSON-RPC codes; -32005 marks
// a combine whose text exceeds the budget and carries the token count.
//
// Logging goes to stderr; stdout is reserved for the protocol.
package mcp
