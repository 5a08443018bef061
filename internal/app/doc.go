// Package app wires configuration into the long-lived handles shared by the
// CLI and the MCP server: one embedder, and a documents and an issues index
// each with its own store, ingester and reader.
package app
