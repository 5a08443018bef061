// Package vectorstore holds chunk vectors and answers similarity, id and
// prefix lookups.
//
// A Store is bound to one index name and partitioned by namespace. Three
// backends implement it:
//
//   - sqlite: a records table with semver-tracked migrations. Builds with
//     the sqlite_vec tag use mattn/go-sqlite3 and rank in SQL; the default
//     pure Go build uses modernc.org/sqlite and ranks in Go.
//   - badger: an embedded key-value store keyed rv:<index>:<namespace>:<id>,
//     so listing by id prefix is a key range scan.
//   - pinecone: the Pinecone data plane REST API.
//
// Build the cgo variant with:
//
//	go build -tags sqlite_vec ./...
package vectorstore
