package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// The compiler is a fixed sequence of substitution passes. Pass order is
// significant: escaping must come first, images must run before links, and
// emphasis must go bold-italic, bold, italic.
var (
	fenceRe      = regexp.MustCompile("(?s)```(\\w*)\\n(.*?)```")
	h4Re         = regexp.MustCompile(`(?m)^#### (.+)$`)
	h3Re         = regexp.MustCompile(`(?m)^### (.+)$`)
	h2Re         = regexp.MustCompile(`(?m)^## (.+)$`)
	h1Re         = regexp.MustCompile(`(?m)^# (.+)$`)
	hrRe         = regexp.MustCompile(`(?m)^---+$`)
	boldItalicRe = regexp.MustCompile(`\*\*\*(.+?)\*\*\*`)
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe     = regexp.MustCompile(`\*(.+?)\*`)
	inlineCodeRe = regexp.MustCompile("`([^`]+)`")
	imageRe      = regexp.MustCompile(`!\[([^\]\x00]*)\]\(([^)\x00]+)\)`)
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)\x00]+)\)`)
	quoteBlockRe = regexp.MustCompile(`(?m)(^&gt; .+\n?)+`)
	quoteMarkRe  = regexp.MustCompile(`(?m)^&gt; `)
	ulBlockRe    = regexp.MustCompile(`(?m)(^[-*] .+\n?)+`)
	ulMarkRe     = regexp.MustCompile(`^[-*] `)
	olBlockRe    = regexp.MustCompile(`(?m)(^\d+\. .+\n?)+`)
	olMarkRe     = regexp.MustCompile(`^\d+\. `)
	safeURLRe    = regexp.MustCompile(`(?i)^(https?:|mailto:|/|#)`)
)

var (
	htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer(`"`, "&quot;", "<", "&lt;", ">", "&gt;")
)

const (
	imageStyle = "max-width:100%;border-radius:8px;margin:8px 0"

	// blockMark delimits fenced code and image placeholders. NUL never
	// survives input normalization, so it cannot collide with document text.
	// Image alt text and image/link URLs never match NUL, so a placeholder
	// is never restored inside an attribute.
	blockMark = "\x00"
	imageMark = blockMark + "i"
)

// RenderMarkdown compiles a limited Markdown subset to HTML.
//
// Supported: headings h1-h4, fenced code, horizontal rules, bold, italic,
// bold-italic, inline code, images, links, blockquotes, flat lists and
// paragraphs. Every literal &, < and > is escaped before markup is produced,
// and every emitted URL goes through SanitizeURL. Nested or overlapping
// constructs are not handled.
func RenderMarkdown(source string) string {
	text := strings.ReplaceAll(source, "\x00", "\uFFFD")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = htmlEscaper.Replace(text)

	// Fenced blocks are rendered now and parked behind placeholders so the
	// inline passes never rewrite code.
	var blocks []string
	text = replaceSubmatches(fenceRe, text, func(groups []string) string {
		blocks = append(blocks, codeBlock(groups[1], groups[2]))
		return blockMark + strconv.Itoa(len(blocks)-1) + blockMark
	})

	text = h4Re.ReplaceAllString(text, "<h4>${1}</h4>")
	text = h3Re.ReplaceAllString(text, "<h3>${1}</h3>")
	text = h2Re.ReplaceAllString(text, "<h2>${1}</h2>")
	text = h1Re.ReplaceAllString(text, "<h1>${1}</h1>")

	text = hrRe.ReplaceAllString(text, "<hr/>")

	text = boldItalicRe.ReplaceAllString(text, "<strong><em>${1}</em></strong>")
	text = boldRe.ReplaceAllString(text, "<strong>${1}</strong>")
	text = italicRe.ReplaceAllString(text, "<em>${1}</em>")

	text = inlineCodeRe.ReplaceAllString(text, `<code class="preview-inline-code">${1}</code>`)

	// Generated <img> tags are parked until the link pass is done, otherwise
	// a link could start inside an alt attribute.
	var images []string
	text = replaceSubmatches(imageRe, text, func(groups []string) string {
		images = append(images, `<img src="`+SanitizeURL(groups[2])+`" alt="`+attrEscaper.Replace(groups[1])+
			`" style="`+imageStyle+`"/>`)
		return imageMark + strconv.Itoa(len(images)-1) + blockMark
	})
	text = replaceSubmatches(linkRe, text, func(groups []string) string {
		return `<a href="` + SanitizeURL(groups[2]) +
			`" target="_blank" rel="noopener noreferrer" class="preview-link">` + groups[1] + `</a>`
	})
	for i, img := range images {
		text = strings.Replace(text, imageMark+strconv.Itoa(i)+blockMark, img, 1)
	}

	text = quoteBlockRe.ReplaceAllStringFunc(text, quoteBlock)

	text = ulBlockRe.ReplaceAllStringFunc(text, listBlock("ul", ulMarkRe))
	text = olBlockRe.ReplaceAllStringFunc(text, listBlock("ol", olMarkRe))

	text = wrapParagraphs(text)

	for i, block := range blocks {
		text = strings.Replace(text, blockMark+strconv.Itoa(i)+blockMark, block, 1)
	}

	return text
}

// SanitizeURL returns the trimmed URL when it uses http, https or mailto, or
// is root-relative or a fragment. Anything else collapses to "#". Quotes and
// angle brackets are escaped so the result is safe inside a double-quoted
// attribute.
func SanitizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !safeURLRe.MatchString(trimmed) {
		return "#"
	}
	return attrEscaper.Replace(trimmed)
}

func codeBlock(lang, body string) string {
	var b strings.Builder
	b.WriteString(`<pre class="preview-code-block"`)
	if lang != "" {
		b.WriteString(` data-lang="` + lang + `"`)
	}
	b.WriteString("><code>")
	b.WriteString(body)
	b.WriteString("</code></pre>")
	return b.String()
}

// quoteBlock joins the quoted lines with <br/> so the whole quote stays on
// one line and is not split up by paragraph wrapping.
func quoteBlock(block string) string {
	body := strings.TrimSuffix(quoteMarkRe.ReplaceAllString(block, ""), "\n")
	out := `<blockquote class="preview-blockquote">` + strings.ReplaceAll(body, "\n", "<br/>") + `</blockquote>`
	if strings.HasSuffix(block, "\n") {
		out += "\n"
	}
	return out
}

func listBlock(tag string, marker *regexp.Regexp) func(string) string {
	return func(block string) string {
		var b strings.Builder
		b.WriteString("<" + tag + ` class="preview-list">`)
		for _, line := range strings.Split(block, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			b.WriteString("<li>" + marker.ReplaceAllString(line, "") + "</li>")
		}
		b.WriteString("</" + tag + ">")
		// keep the line break so following text starts its own line
		if strings.HasSuffix(block, "\n") {
			b.WriteByte('\n')
		}
		return b.String()
	}
}

// wrapParagraphs puts every non-empty line that does not already open a
// block element inside <p>.
func wrapParagraphs(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line == "" || opensBlock(line) {
			continue
		}
		lines[i] = "<p>" + line + "</p>"
	}
	return strings.Join(lines, "\n")
}

func opensBlock(line string) bool {
	if strings.HasPrefix(line, blockMark) || strings.HasPrefix(line, "<code") {
		return true
	}
	return len(line) > 1 && line[0] == '<' && strings.IndexByte("houlpbia/", line[1]) >= 0
}

// replaceSubmatches is ReplaceAllStringFunc with access to capture groups.
func replaceSubmatches(re *regexp.Regexp, s string, fn func(groups []string) string) string {
	matches := re.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	last := 0
	for _, loc := range matches {
		b.WriteString(s[last:loc[0]])
		groups := make([]string, len(loc)/2)
		for g := range groups {
			if loc[2*g] >= 0 {
				groups[g] = s[loc[2*g]:loc[2*g+1]]
			}
		}
		b.WriteString(fn(groups))
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String()
}
