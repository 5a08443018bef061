// Package source produces the documents an ingestion run consumes.
//
// RepoLoader reads a checked-out repository from disk, keeping only files
// that decode as UTF-8 text. IssueLoader pages through the issues of a
// GitHub repository with go-github, throttled by a token bucket.
package source
