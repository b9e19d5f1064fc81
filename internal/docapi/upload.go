package docapi

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"

	"github.com/doc-organiser/preview-gateway/internal/models"
	"github.com/doc-organiser/preview-gateway/internal/upload"
)

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Upload streams req.File to POST /documents as multipart form data. The
// file field carries req.FileName, so a renamed retry needs no server-side
// support. Overwrite maps to conflictResolution=replace; otherwise the
// server's default applies and a name clash comes back as 409.
func (c *Client) Upload(ctx context.Context, req upload.Request, onProgress func(percent int)) (*models.Document, error) {
	f, err := req.File.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", req.FileName, err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer f.Close()
		pw.CloseWithError(writeForm(mw, req, &progressReader{
			r:     f,
			total: req.File.Size(),
			fn:    onProgress,
			last:  -1,
		}))
	}()

	httpReq, err := c.newRequest(ctx, http.MethodPost, c.endpoint("documents"), pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.do(httpReq)
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	defer resp.Body.Close()

	var doc models.Document
	if err := decodeEnvelope(resp.Body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func writeForm(mw *multipart.Writer, req upload.Request, body io.Reader) error {
	if req.FolderID != "" {
		if err := mw.WriteField("folderId", req.FolderID); err != nil {
			return err
		}
	}
	if req.Overwrite {
		if err := mw.WriteField("conflictResolution", string(models.ResolutionReplace)); err != nil {
			return err
		}
	}

	contentType := mime.TypeByExtension(filepath.Ext(req.FileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(req.FileName)))
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return fmt.Errorf("streaming file: %w", err)
	}
	return mw.Close()
}

// progressReader reports whole percentages of total as it is read.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	last  int
	fn    func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)

	if p.fn != nil && p.total > 0 {
		percent := int(p.read * 100 / p.total)
		if percent != p.last {
			p.last = percent
			p.fn(percent)
		}
	}
	return n, err
}
