package types

import (
	"strings"
)

// Kind identifies which metadata schema a document and its chunks use
type Kind string

const (
	KindCode  Kind = "code"
	KindIssue Kind = "issue"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	return k == KindCode || k == KindIssue
}

// CodeInfo carries the metadata of a source file
type CodeInfo struct {
	FilePath string // Repository-relative, slash separated
	Source   string // Absolute path on disk, never stored in the index
	Language string // File extension without the dot
}

// IssueInfo carries the metadata of a tracker issue
type IssueInfo struct {
	Title     string
	Author    string
	CreatedAt string // RFC3339
	UpdatedAt string
	ClosedAt  string // Empty while the issue is open
	State     string
	Number    int
	Slug      string // owner/repo
	Labels    []string
}

// Document is one unit of ingestion: a source file or an issue
type Document struct {
	Kind  Kind
	Text  string
	Code  *CodeInfo
	Issue *IssueInfo
}

// NewCodeDocument builds a code document
func NewCodeDocument(text, filePath, source, language string) *Document {
	return &Document{
		Kind: KindCode,
		Text: text,
		Code: &CodeInfo{FilePath: filePath, Source: source, Language: language},
	}
}

// NewIssueDocument builds an issue document. The text is the title, followed by
// ":\n" and the body when the body is not empty.
func NewIssueDocument(info IssueInfo, body string) *Document {
	text := info.Title
	if body != "" {
		text += ":\n" + body
	}
	return &Document{
		Kind:  KindIssue,
		Text:  text,
		Issue: &info,
	}
}

// Validate checks that the document has content and the metadata its kind requires
func (d *Document) Validate() error {
	if !d.Kind.Valid() {
		return ErrUnknownKind
	}
	if strings.TrimSpace(d.Text) == "" {
		return ErrEmptyContent
	}
	switch d.Kind {
	case KindCode:
		if d.Code == nil || d.Code.FilePath == "" {
			return ErrMissingSource
		}
	case KindIssue:
		if d.Issue == nil || d.Issue.Author == "" {
			return ErrMissingSource
		}
	}
	return nil
}

// Prefix returns the ID prefix shared by every chunk of the document.
// Code documents use their path; issues use author and creation time.
func (d *Document) Prefix() string {
	switch d.Kind {
	case KindCode:
		if d.Code != nil {
			return NormalizePrefix(d.Code.FilePath)
		}
	case KindIssue:
		if d.Issue != nil {
			return NormalizePrefix(d.Issue.Author + "_" + d.Issue.CreatedAt)
		}
	}
	return ""
}

// Metadata returns the document level fields stored with every chunk
func (d *Document) Metadata() map[string]any {
	switch d.Kind {
	case KindCode:
		if d.Code == nil {
			return map[string]any{}
		}
		return map[string]any{
			"file_path": d.Code.FilePath,
			"language":  d.Code.Language,
		}
	case KindIssue:
		if d.Issue == nil {
			return map[string]any{}
		}
		labels := d.Issue.Labels
		if labels == nil {
			labels = []string{}
		}
		return map[string]any{
			"title":      d.Issue.Title,
			"author":     d.Issue.Author,
			"created_at": d.Issue.CreatedAt,
			"updated_at": d.Issue.UpdatedAt,
			"closed_at":  d.Issue.ClosedAt,
			"state":      d.Issue.State,
			"number":     d.Issue.Number,
			"slug":       d.Issue.Slug,
			"labels":     labels,
		}
	}
	return map[string]any{}
}

var prefixReplacer = strings.NewReplacer("/", "_", `\`, "_")

// NormalizePrefix maps path separators to underscores
func NormalizePrefix(s string) string {
	return prefixReplacer.Replace(s)
}
