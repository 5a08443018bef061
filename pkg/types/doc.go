// Package types provides shared type definitions for the repovec MCP server.
//
// # Documents and Chunks
//
// A Document is one unit of ingestion, either a source file or a tracker issue:
//
//	doc := types.NewCodeDocument(text, "internal/app/main.go", absPath, "go")
//	issue := types.NewIssueDocument(types.IssueInfo{Title: "crash", Author: "octocat"}, body)
//
// Documents are split into Chunks. Every chunk of a document shares the same
// TotalChunks and carries an Ordinal from 0 to TotalChunks-1.
//
// # Chunk IDs
//
// ChunkID is the structured address of a chunk. Its canonical form is
// <prefix>-<ordinal>, where the prefix is derived from the document
// (Document.Prefix) and may itself contain hyphens:
//
//	id := types.ChunkID{Prefix: "internal_app_main.go", Ordinal: 2}
//	id.String()          // "internal_app_main.go-2"
//	id.Next().String()   // "internal_app_main.go-3"
//
//	parsed, err := types.ParseChunkID("my-repo_README.md-10")
//	// parsed.Prefix == "my-repo_README.md", parsed.Ordinal == 10
//
// # Metadata
//
// Stored chunk metadata holds the document fields, chunk_index, total_chunks and
// the chunk text under the reserved "text" key. On read the text is split off and
// the remaining fields are decoded strictly into CodeMetadata or IssueMetadata;
// any field outside the schema is a ValidationError.
package types
