package parser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strings"

	"github.com/dshills/repovec-mcp/pkg/types"
)

// Parser finds top-level declaration boundaries in source files
type Parser struct {
	fset *token.FileSet
}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{
		fset: token.NewFileSet(),
	}
}

// Parse finds declaration boundaries in content. Go sources are parsed with
// go/parser; every other language uses a column-0/brace-depth scan. Syntax
// errors are recorded and the scan falls back to the heuristic, so a result
// is always returned.
func (p *Parser) Parse(filename string, content []byte, language string) *types.ParseResult {
	result := &types.ParseResult{Language: language}
	lines := strings.Split(string(content), "\n")

	if language == "go" {
		file, err := parser.ParseFile(p.fset, filename, content, parser.ParseComments)
		if err != nil {
			result.AddError(filename, 0, 0, fmt.Sprintf("syntax error: %v", err))
		}
		// A partial AST loses everything after the error, so only trust a clean parse
		if err == nil && file != nil && len(file.Decls) > 0 {
			result.Boundaries = p.goBoundaries(file)
			return result
		}
	}

	result.Boundaries = scanBoundaries(lines)
	return result
}

// goBoundaries returns the first line of every top-level declaration,
// including its doc comment
func (p *Parser) goBoundaries(file *ast.File) []int {
	boundaries := make([]int, 0, len(file.Decls))
	for _, decl := range file.Decls {
		pos := decl.Pos()
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Doc != nil {
				pos = d.Doc.Pos()
			}
		case *ast.GenDecl:
			if d.Doc != nil {
				pos = d.Doc.Pos()
			}
		}
		boundaries = append(boundaries, p.fset.Position(pos).Line-1)
	}
	return dedupeSorted(boundaries)
}

// scanBoundaries treats a line as a declaration start when it begins at
// column 0 outside any brace block. Comment and decorator lines directly
// above it are pulled into the declaration.
func scanBoundaries(lines []string) []int {
	depths := make([]int, len(lines))
	depth := 0
	for i, line := range lines {
		depths[i] = depth
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth < 0 {
			depth = 0
		}
	}

	var boundaries []int
	for i, line := range lines {
		if depths[i] != 0 || !startsDeclaration(line) {
			continue
		}
		start := i
		for start > 0 && depths[start-1] == 0 && isLeadingTrivia(lines[start-1]) {
			start--
		}
		boundaries = append(boundaries, start)
	}
	return dedupeSorted(boundaries)
}

func startsDeclaration(line string) bool {
	if line == "" {
		return false
	}
	switch line[0] {
	case ' ', '\t', '\r', '}', ')', ']':
		return false
	}
	return !isLeadingTrivia(line)
}

// isLeadingTrivia reports comment and decorator lines
func isLeadingTrivia(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, marker := range []string{"//", "/*", "*", "#", "@", "--", ";", "<!--"} {
		if strings.HasPrefix(trimmed, marker) {
			return true
		}
	}
	return false
}

func dedupeSorted(in []int) []int {
	sort.Ints(in)
	out := in[:0]
	for i, v := range in {
		if i == 0 || v != in[i-1] {
			out = append(out, v)
		}
	}
	return out
}
