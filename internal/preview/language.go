package preview

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-enry/go-enry/v2"
	"gopkg.in/yaml.v3"
)

// DefaultLabel is used for any extension missing from the table.
const DefaultLabel = "Plain Text"

var languageLabels = map[string]string{
	"js":         "JavaScript",
	"jsx":        "JavaScript (JSX)",
	"mjs":        "JavaScript",
	"ts":         "TypeScript",
	"tsx":        "TypeScript (TSX)",
	"py":         "Python",
	"pyw":        "Python",
	"java":       "Java",
	"kt":         "Kotlin",
	"kts":        "Kotlin",
	"scala":      "Scala",
	"c":          "C",
	"cpp":        "C++",
	"cc":         "C++",
	"h":          "C Header",
	"hpp":        "C++ Header",
	"cs":         "C#",
	"go":         "Go",
	"rs":         "Rust",
	"rb":         "Ruby",
	"php":        "PHP",
	"swift":      "Swift",
	"dart":       "Dart",
	"lua":        "Lua",
	"r":          "R",
	"html":       "HTML",
	"htm":        "HTML",
	"css":        "CSS",
	"scss":       "SCSS",
	"sass":       "Sass",
	"less":       "Less",
	"json":       "JSON",
	"xml":        "XML",
	"yaml":       "YAML",
	"yml":        "YAML",
	"toml":       "TOML",
	"sql":        "SQL",
	"graphql":    "GraphQL",
	"gql":        "GraphQL",
	"sh":         "Shell",
	"bash":       "Bash",
	"zsh":        "Zsh",
	"fish":       "Fish",
	"ps1":        "PowerShell",
	"bat":        "Batch",
	"cmd":        "Batch",
	"md":         "Markdown",
	"mdx":        "MDX",
	"txt":        "Plain Text",
	"log":        "Log",
	"tex":        "LaTeX",
	"rst":        "reStructuredText",
	"adoc":       "AsciiDoc",
	"rtf":        "Rich Text",
	"ini":        "INI",
	"cfg":        "Config",
	"conf":       "Config",
	"env":        "Environment",
	"properties": "Properties",
	"dockerfile": "Dockerfile",
	"makefile":   "Makefile",
	"gradle":     "Gradle",
	"vue":        "Vue",
	"svelte":     "Svelte",
}

var defaultLabeler = NewLabeler(nil)

// LanguageLabel returns the human-readable language name for a file, based
// only on its extension.
func LanguageLabel(fileName string) string {
	return defaultLabeler.Label(fileName)
}

// Labeler resolves language labels from the built-in table plus optional
// per-deployment overrides. Lookups are exact; there is no fuzzy matching
// and no content sniffing.
type Labeler struct {
	overrides map[string]string
}

// NewLabeler creates a labeler. Override keys are normalized to lower case
// without a leading dot; entries with an empty key or label are ignored.
func NewLabeler(overrides map[string]string) *Labeler {
	normalized := make(map[string]string, len(overrides))
	for ext, label := range overrides {
		ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
		label = strings.TrimSpace(label)
		if ext == "" || label == "" {
			continue
		}
		normalized[ext] = label
	}
	return &Labeler{overrides: normalized}
}

// Label returns the label for fileName's extension.
func (l *Labeler) Label(fileName string) string {
	ext := FileExtension(fileName)
	if label, ok := l.overrides[ext]; ok {
		return label
	}
	if label, ok := languageLabels[ext]; ok {
		return label
	}
	return DefaultLabel
}

// labelFile is the on-disk shape of a label override file:
//
//	labels:
//	  tf: Terraform
//	  proto: Protocol Buffers
type labelFile struct {
	Labels map[string]string `yaml:"labels"`
}

// LoadLabelOverrides parses a YAML override document.
func LoadLabelOverrides(r io.Reader) (map[string]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading label overrides: %w", err)
	}

	var f labelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing label overrides: %w", err)
	}
	if f.Labels == nil {
		f.Labels = map[string]string{}
	}
	return f.Labels, nil
}

// LoadLabelerFile builds a Labeler from an override file. An empty path
// yields the built-in table only.
func LoadLabelerFile(path string) (*Labeler, error) {
	if path == "" {
		return NewLabeler(nil), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening label overrides: %w", err)
	}
	defer f.Close()

	overrides, err := LoadLabelOverrides(f)
	if err != nil {
		return nil, err
	}
	return NewLabeler(overrides), nil
}

// Highlight guesses a lowercase syntax-highlighter language id from the
// file name and content. It returns "plaintext" when nothing specific is
// detected.
func Highlight(fileName string, content []byte) string {
	base := filepath.Base(fileName)

	if lang := enry.GetLanguage(base, content); lang != "" && lang != "Text" {
		return strings.ToLower(lang)
	}
	if lang, safe := enry.GetLanguageByExtension(base); safe && lang != "" && lang != "Text" {
		return strings.ToLower(lang)
	}
	if lang, safe := enry.GetLanguageByFilename(base); safe && lang != "" && lang != "Text" {
		return strings.ToLower(lang)
	}
	return "plaintext"
}
