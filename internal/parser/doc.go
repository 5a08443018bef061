// Package parser finds top-level declaration boundaries in source files.
//
// Boundaries let the chunker end a window between declarations instead of in
// the middle of one.
//
// # Basic Usage
//
//	p := parser.New()
//	result := p.Parse("main.go", content, "go")
//
//	for _, line := range result.Boundaries {
//	    fmt.Printf("declaration starts at line %d\n", line+1)
//	}
//
// # Strategies
//
// Go sources are parsed with go/parser. Each top-level declaration contributes
// the line where it starts, or where its doc comment starts when it has one.
//
// Other languages use a line scan: a line that begins at column 0 while the
// running brace depth is zero starts a declaration. Comment and decorator lines
// directly above it are pulled in with it.
//
// Go files with syntax errors are recorded in ParseResult.Errors and scanned
// with the line heuristic instead.
package parser
