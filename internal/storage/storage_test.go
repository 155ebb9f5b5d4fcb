package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

func TestFilesystemStorage(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"croz_1_0.txt", "croz_0_0.txt", "notes.md"} {
		test.That(t, os.WriteFile(filepath.Join(dir, name), []byte("0 0.5 0.5 0.1 0.1 0.9\n"), 0o644), test.ShouldBeNil)
	}
	test.That(t, os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755), test.ShouldBeNil)

	fs, err := NewFilesystemStorage(dir)
	test.That(t, err, test.ShouldBeNil)
	ctx := context.Background()

	keys, err := fs.List(ctx, "*.txt")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, keys, test.ShouldResemble, []string{"croz_0_0.txt", "croz_1_0.txt"})

	_, err = fs.List(ctx, "[")
	test.That(t, err, test.ShouldNotBeNil)

	rc, err := fs.GetReader(ctx, "croz_0_0.txt")
	test.That(t, err, test.ShouldBeNil)
	data, err := io.ReadAll(rc)
	rc.Close()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldStartWith, "0 0.5")

	_, err = fs.GetReader(ctx, "missing.txt")
	test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)

	_, err = fs.GetReader(ctx, "../etc/passwd")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "path traversal")

	ok, err := fs.Exists(ctx, "notes.md")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	ok, err = fs.Exists(ctx, "nope.txt")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestNewFilesystemStorageMissingDir(t *testing.T) {
	_, err := NewFilesystemStorage(filepath.Join(t.TempDir(), "absent"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestHTTPContentReader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/contents/c-1/download":
			io.WriteString(w, "tileName,pixelX\n")
		case "/api/v1/contents/c-1":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cr := NewHTTPContentReader(srv.URL)
	ctx := context.Background()

	rc, err := cr.GetReader(ctx, "c-1")
	test.That(t, err, test.ShouldBeNil)
	data, _ := io.ReadAll(rc)
	rc.Close()
	test.That(t, string(data), test.ShouldEqual, "tileName,pixelX\n")

	_, err = cr.GetReader(ctx, "c-2")
	test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)

	ok, err := cr.Exists(ctx, "c-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	ok, err = cr.Exists(ctx, "c-2")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestHTTPDerivedWriter(t *testing.T) {
	var posted map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		test.That(t, r.URL.Path, test.ShouldEqual, "/api/v1/contents/parent-1/derived")
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode([]derivedEntry{
				{ID: "d-1", DerivationType: "detection_table", Variant: "detection_table_v1"},
			})
		case http.MethodPost:
			json.NewDecoder(r.Body).Decode(&posted)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(derivedEntry{ID: "d-2"})
		}
	}))
	defer srv.Close()

	dw := NewHTTPDerivedWriter(srv.URL)
	ctx := context.Background()

	ok, err := dw.HasDerived(ctx, "parent-1", "detection_table", 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	ok, err = dw.HasDerived(ctx, "parent-1", "detection_table", 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	id, err := dw.PutDerived(ctx, "parent-1", "detection_table", 2, strings.NewReader("tileName\n"), map[string]string{"file_name": "croz.csv"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldEqual, "d-2")
	test.That(t, posted["variant"], test.ShouldEqual, "detection_table_v2")
	test.That(t, posted["file_name"], test.ShouldEqual, "croz.csv")
	test.That(t, posted["content_data"], test.ShouldEqual, "tileName\n")
}

func TestVariant(t *testing.T) {
	test.That(t, Variant("georef_table", 3), test.ShouldEqual, "georef_table_v3")
}
