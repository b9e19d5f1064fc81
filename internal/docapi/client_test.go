package docapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/doc-organiser/preview-gateway/internal/models"
	"github.com/doc-organiser/preview-gateway/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeEnvelope(w http.ResponseWriter, status int, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": status < 300,
		"message": message,
		"data":    data,
	})
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/api/v1/", Token: "secret"}, zap.NewNop())
	require.NoError(t, err)
	return c
}

type memFile struct {
	name string
	data []byte
}

func (f *memFile) Name() string { return f.name }
func (f *memFile) Size() int64  { return int64(len(f.data)) }
func (f *memFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"http", "http://localhost:8080/api/v1", false},
		{"https", "https://docs.example.com/api", false},
		{"missing scheme", "localhost:8080", true},
		{"ftp", "ftp://example.com", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{BaseURL: tt.url}, zap.NewNop())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClient_GetDocument(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/documents/doc-1", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		writeEnvelope(w, http.StatusOK, map[string]any{
			"id":       "doc-1",
			"name":     "report.pdf",
			"mimeType": "application/pdf",
			"fileSize": 2048,
			"folderId": "f-1",
		}, "")
	}))

	doc, err := c.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", doc.Name)
	assert.Equal(t, "application/pdf", doc.MimeType)
	assert.Equal(t, int64(2048), doc.FileSize)
	assert.Equal(t, "f-1", doc.FolderID)
}

func TestClient_StatusError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"message":"Document not found","error":{"code":"RESOURCE_NOT_FOUND","message":"Document not found with id missing"}}`))
	}))

	_, err := c.GetDocument(context.Background(), "missing")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Status)
	assert.Equal(t, "RESOURCE_NOT_FOUND", se.Code)
	assert.Equal(t, "Document not found with id missing", se.Message)
	assert.False(t, errors.Is(err, upload.ErrConflict))
}

func TestClient_FetchContent(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/documents/doc-1/download", r.URL.Path)
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte("a,b\n1,2\n"))
	}))

	data, err := c.FetchContent(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
}

func TestClient_FetchContentLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, MaxContentBytes: 10}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.FetchContent(context.Background(), "big")
	assert.Error(t, err)
}

func TestClient_FetchPreviewURL(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/documents/doc-1/preview", r.URL.Path)
		writeEnvelope(w, http.StatusOK, "https://minio.local/documents/doc-1?X-Amz-Signature=abc", "")
	}))

	link, err := c.FetchPreviewURL(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "https://minio.local/documents/doc-1?X-Amz-Signature=abc", link)
}

func TestClient_PathIsEscaped(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/documents/a%2Fb/preview", r.URL.EscapedPath())
		writeEnvelope(w, http.StatusOK, "https://x", "")
	}))

	_, err := c.FetchPreviewURL(context.Background(), "a/b")
	require.NoError(t, err)
}

func TestClient_Upload(t *testing.T) {
	type received struct {
		fileName    string
		contentType string
		body        string
		folderID    string
		resolution  string
	}
	var (
		mu  sync.Mutex
		got received
	)

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, header, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)

		mu.Lock()
		got = received{
			fileName:    header.Filename,
			contentType: header.Header.Get("Content-Type"),
			body:        string(data),
			folderID:    r.FormValue("folderId"),
			resolution:  r.FormValue("conflictResolution"),
		}
		mu.Unlock()

		writeEnvelope(w, http.StatusCreated, map[string]any{"id": "doc-9", "name": header.Filename}, "Document uploaded successfully")
	}))

	file := &memFile{name: "report.pdf", data: bytes.Repeat([]byte("p"), 4096)}

	t.Run("plain upload", func(t *testing.T) {
		var percents []int
		doc, err := c.Upload(context.Background(), upload.Request{
			File: file, FileName: "report.pdf", FolderID: "f-1",
		}, func(p int) { percents = append(percents, p) })
		require.NoError(t, err)

		assert.Equal(t, "doc-9", doc.ID)
		assert.Equal(t, "report.pdf", got.fileName)
		assert.Equal(t, "application/pdf", got.contentType)
		assert.Equal(t, string(file.data), got.body)
		assert.Equal(t, "f-1", got.folderID)
		assert.Empty(t, got.resolution)

		require.NotEmpty(t, percents)
		assert.Equal(t, 100, percents[len(percents)-1])
	})

	t.Run("renamed overwrite", func(t *testing.T) {
		_, err := c.Upload(context.Background(), upload.Request{
			File: file, FileName: `report (1).pdf`, Overwrite: true,
		}, nil)
		require.NoError(t, err)

		assert.Equal(t, "report (1).pdf", got.fileName)
		assert.Equal(t, string(models.ResolutionReplace), got.resolution)
		assert.Empty(t, got.folderID)
	})
}

func TestClient_UploadConflict(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		writeEnvelope(w, http.StatusConflict, nil, "A file named 'report.pdf' already exists in this folder")
	}))

	_, err := c.Upload(context.Background(), upload.Request{
		File: &memFile{name: "report.pdf", data: []byte("x")}, FileName: "report.pdf",
	}, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, upload.ErrConflict))
	assert.Contains(t, err.Error(), "already exists")
}
