// Package chunker splits documents into line-based fragments for embedding.
//
// # Basic Usage
//
//	c, err := chunker.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, f := range c.Split(text, "py") {
//	    fmt.Printf("lines %d-%d\n", f.StartLine, f.EndLine)
//	}
//
// # Strategy
//
// The second argument to Split is the document's language tag, a file
// extension such as "go" or "d.ts". Documents are handled in three tiers:
//
//   - Small files (SmallFileLines or fewer, default 300) stay whole.
//   - Recognized code (see LanguageFor) is cut into windows of at most
//     CodeChunkLines (500) lines that overlap by CodeOverlapLines (100). A window
//     ends at the last top-level declaration inside it, found by the parser
//     package, and fragments shorter than MinChunkLines (50) are folded into the
//     fragment before them.
//   - Everything else uses a sliding window of TextChunkLines (300) lines with
//     TextOverlapLines (40) of overlap.
//
// Both window strategies always produce a final fragment that reaches the last
// line. Config.Validate rejects thresholds whose windows would not advance.
//
// Fragments are raw: token limits are enforced afterwards by the budget package.
package chunker
