package tika

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kbqa-go/internal/config"
)

func TestExtractText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/tika" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if r.Header.Get("Content-Type") != "application/pdf" {
			http.Error(w, "bad content type "+r.Header.Get("Content-Type"), http.StatusUnsupportedMediaType)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write([]byte("extracted:" + string(body)))
	}))
	defer srv.Close()

	c := NewClient(config.TikaConfig{ServerURL: srv.URL})
	text, err := c.ExtractText(context.Background(), strings.NewReader("raw"), "guide.pdf")
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if text != "extracted:raw" {
		t.Fatalf("text = %q", text)
	}
}

func TestExtractTextServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(config.TikaConfig{ServerURL: srv.URL})
	if _, err := c.ExtractText(context.Background(), strings.NewReader("x"), "a.docx"); err == nil {
		t.Fatal("expected error")
	}
}
