package chunker

import (
	"path/filepath"
	"strings"
)

// languages maps file extensions to the structured languages the splitter
// recognizes. Anything missing is split with the plain sliding window.
var languages = map[string]string{
	// Python
	"py": "python", "pyi": "python", "pyw": "python", "pyx": "python", "pxd": "python",
	// TypeScript
	"ts": "typescript", "tsx": "typescript", "d.ts": "typescript", "mts": "typescript", "cts": "typescript",
	// JavaScript
	"js": "javascript", "mjs": "javascript", "cjs": "javascript", "jsx": "javascript",
	"es6": "javascript", "min.js": "javascript",
	// Java
	"java": "java", "jsp": "java",
	// Go
	"go": "go", "test.go": "go",
	// C / C++
	"c": "c", "h": "cpp", "cpp": "cpp", "cc": "cpp", "cxx": "cpp", "hpp": "cpp", "hh": "cpp", "hxx": "cpp",
	// C#
	"cs": "csharp", "csx": "csharp", "cshtml": "csharp", "razor": "csharp",
	// Web
	"html": "html", "htm": "html", "xhtml": "html",
	"css": "css", "scss": "css", "sass": "css", "less": "css",
	// PHP
	"php": "php", "phtml": "php", "php3": "php", "php4": "php", "php5": "php", "phpt": "php", "inc": "php",
	// Ruby
	"rb": "ruby", "rake": "ruby", "gemspec": "ruby", "ru": "ruby", "erb": "ruby",
	// Rust
	"rs": "rust",
	// Perl
	"pl": "perl", "pm": "perl", "t": "perl", "psgi": "perl", "plx": "perl", "cgi": "perl",
	// Swift
	"swift": "swift",
}

// LanguageFor returns the structured language for an extension (without the
// dot, case-insensitive), and whether it is recognized.
func LanguageFor(ext string) (string, bool) {
	lang, ok := languages[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return lang, ok
}

// ExtensionOf returns the extension used as a document's language tag.
// Compound extensions such as "d.ts" and "test.go" win over the final one.
func ExtensionOf(path string) string {
	base := strings.ToLower(filepath.Base(path))
	parts := strings.Split(base, ".")
	if len(parts) >= 3 {
		compound := parts[len(parts)-2] + "." + parts[len(parts)-1]
		if _, ok := languages[compound]; ok {
			return compound
		}
	}
	return strings.TrimPrefix(filepath.Ext(base), ".")
}
