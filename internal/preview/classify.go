// Package preview decides how a document is previewed and produces the
// content a renderer needs.
package preview

import (
	"strings"
)

// PreviewType selects the renderer and the fetch strategy for a document.
type PreviewType string

const (
	TypeImage    PreviewType = "image"
	TypePDF      PreviewType = "pdf"
	TypeVideo    PreviewType = "video"
	TypeAudio    PreviewType = "audio"
	TypeOffice   PreviewType = "office"
	TypeCode     PreviewType = "code"
	TypeCSV      PreviewType = "csv"
	TypeMarkdown PreviewType = "markdown"
	TypeFallback PreviewType = "fallback"
)

// Types lists every preview type.
var Types = []PreviewType{
	TypeImage, TypePDF, TypeVideo, TypeAudio, TypeOffice,
	TypeCode, TypeCSV, TypeMarkdown, TypeFallback,
}

// Valid reports whether t is one of Types.
func (t PreviewType) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

var officeMIMEPrefixes = []string{
	"application/vnd.openxmlformats-officedocument",
	"application/vnd.ms-",
	"application/msword",
	"application/vnd.oasis.opendocument",
}

var officeExtensions = setOf("doc", "docx", "xls", "xlsx", "ppt", "pptx", "odt", "ods", "odp")

var codeMIMEMarkers = []string{"json", "xml", "javascript", "typescript", "yaml", "x-sh", "x-python"}

var codeExtensions = setOf(
	"js", "ts", "jsx", "tsx", "mjs", "cjs", "py", "pyw",
	"java", "c", "cpp", "cc", "h", "hpp", "cs", "go", "rs", "rb", "php", "swift", "kt", "kts", "scala",
	"html", "htm", "css", "scss", "sass", "less",
	"json", "xml", "yaml", "yml", "toml", "ini", "cfg", "conf", "env",
	"sh", "bash", "zsh", "fish", "ps1", "bat", "cmd",
	"sql", "graphql", "gql", "r", "lua", "dart", "vue", "svelte",
	"dockerfile", "makefile", "gradle", "properties",
	"txt", "log", "rtf", "tex", "rst", "adoc",
)

// rule is one classification step. Rules are tried in order and the first
// match wins, so narrower text formats sit above the generic text rule.
type rule struct {
	typ   PreviewType
	match func(mime, ext string) bool
}

var rules = []rule{
	{TypeImage, func(mime, _ string) bool { return strings.HasPrefix(mime, "image/") }},
	{TypePDF, func(mime, ext string) bool { return mime == "application/pdf" || ext == "pdf" }},
	{TypeVideo, func(mime, _ string) bool { return strings.HasPrefix(mime, "video/") }},
	{TypeAudio, func(mime, _ string) bool { return strings.HasPrefix(mime, "audio/") }},
	{TypeMarkdown, func(mime, ext string) bool { return mime == "text/markdown" || ext == "md" || ext == "mdx" }},
	{TypeCSV, func(mime, ext string) bool { return mime == "text/csv" || ext == "csv" }},
	{TypeOffice, func(mime, ext string) bool { return hasAnyPrefix(mime, officeMIMEPrefixes) || officeExtensions[ext] }},
	{TypeCode, func(mime, ext string) bool {
		return strings.HasPrefix(mime, "text/") || containsAny(mime, codeMIMEMarkers) || codeExtensions[ext]
	}},
}

// Classify maps a declared MIME type and file name to a preview type. It
// never fails; anything unrecognised is TypeFallback.
func Classify(mimeType, fileName string) PreviewType {
	mime := normalizeMIME(mimeType)
	ext := FileExtension(fileName)

	for _, r := range rules {
		if r.match(mime, ext) {
			return r.typ
		}
	}
	return TypeFallback
}

// NeedsTextContent reports whether previews of type t are built from the
// decoded file body rather than a streaming URL.
func NeedsTextContent(t PreviewType) bool {
	return t == TypeCode || t == TypeCSV || t == TypeMarkdown
}

// FileExtension returns the lower-cased text after the last dot. Names
// without a dot, or whose only dot is the leading one (".env"), have no
// extension.
func FileExtension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// normalizeMIME lower-cases the media type and drops parameters such as
// "; charset=utf-8".
func normalizeMIME(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func setOf(items ...string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}
