package preview

import (
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		fileName string
		want     PreviewType
	}{
		{"png image", "image/png", "photo.png", TypeImage},
		{"svg image by mime only", "image/svg+xml", "logo", TypeImage},
		{"pdf by mime", "application/pdf", "doc", TypePDF},
		{"pdf by extension", "application/octet-stream", "Report.PDF", TypePDF},
		{"video", "video/mp4", "clip.mp4", TypeVideo},
		{"audio", "audio/mpeg", "song.mp3", TypeAudio},
		{"markdown by mime", "text/markdown", "notes", TypeMarkdown},
		{"markdown by md", "", "README.md", TypeMarkdown},
		{"markdown by mdx", "", "page.mdx", TypeMarkdown},
		{"markdown mime wins over csv extension", "text/markdown", "data.csv", TypeMarkdown},
		{"csv by mime", "text/csv", "export", TypeCSV},
		{"csv by extension", "text/plain", "export.csv", TypeCSV},
		{"csv mime with charset", "text/csv; charset=utf-8", "export", TypeCSV},
		{"docx by mime", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "a", TypeOffice},
		{"legacy excel by mime", "application/vnd.ms-excel", "a", TypeOffice},
		{"msword", "application/msword", "a", TypeOffice},
		{"opendocument", "application/vnd.oasis.opendocument.text", "a", TypeOffice},
		{"pptx by extension", "", "deck.pptx", TypeOffice},
		{"plain text mime", "text/plain", "notes", TypeCode},
		{"json mime", "application/json", "data", TypeCode},
		{"ld+json mime", "application/ld+json", "data", TypeCode},
		{"xml mime", "application/xml", "feed", TypeCode},
		{"javascript mime", "application/javascript", "app", TypeCode},
		{"yaml mime", "application/x-yaml", "conf", TypeCode},
		{"shell mime", "application/x-sh", "run", TypeCode},
		{"python mime", "text/x-python", "main", TypeCode},
		{"go by extension", "application/octet-stream", "main.go", TypeCode},
		{"dockerfile extension", "", "build.dockerfile", TypeCode},
		{"uppercase mime", "IMAGE/PNG", "x", TypeImage},
		{"zip", "application/zip", "archive.zip", TypeFallback},
		{"no extension unknown mime", "application/octet-stream", "blob", TypeFallback},
		{"empty everything", "", "", TypeFallback},
		{"dotfile has no extension", "", ".env", TypeFallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.mimeType, tt.fileName); got != tt.want {
				t.Errorf("Classify(%q, %q) = %q, want %q", tt.mimeType, tt.fileName, got, tt.want)
			}
		})
	}
}

func TestClassify_AlwaysReturnsKnownType(t *testing.T) {
	mimes := []string{"", "image/", "text/", "application/pdf", ";", "weird/type; x=y", "\x00", "application/vnd.ms-"}
	names := []string{"", ".", "..", "a.", ".b", "a.b.c", "noext", "ÜNICODE.MD", "x.csv.md", "trailing."}

	for _, m := range mimes {
		for _, n := range names {
			got := Classify(m, n)
			if !got.Valid() {
				t.Errorf("Classify(%q, %q) returned unknown type %q", m, n, got)
			}
		}
	}
}

func TestFileExtension(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"report.pdf", "pdf"},
		{"archive.tar.gz", "gz"},
		{"UPPER.CSV", "csv"},
		{"noext", ""},
		{".env", ""},
		{"trailing.", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FileExtension(tt.name); got != tt.want {
				t.Errorf("FileExtension(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestNeedsTextContent(t *testing.T) {
	want := map[PreviewType]bool{
		TypeCode:     true,
		TypeCSV:      true,
		TypeMarkdown: true,
	}
	for _, typ := range Types {
		if got := NeedsTextContent(typ); got != want[typ] {
			t.Errorf("NeedsTextContent(%q) = %v, want %v", typ, got, want[typ])
		}
	}
}
