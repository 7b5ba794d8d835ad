package shape

import (
	"bytes"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/domain/entity"
	"github.com/mockforge/mockforge/pkg/jsontree"
)

func newExtractor(t *testing.T) *Extractor {
	t.Helper()
	return NewExtractor(10, zap.NewNop())
}

func TestFromRequest_QueryShape(t *testing.T) {
	e := newExtractor(t)
	r := httptest.NewRequest("GET", `/api/mock/users?shape={"id":0,"name":""}`, nil)
	got := e.FromRequest(r)
	if !got.Shape.HasShape() {
		t.Fatal("shape missing")
	}
	if got.Shape.IsJSONSchema {
		t.Fatal("example shape misclassified as schema")
	}
}

func TestFromRequest_HeaderShape(t *testing.T) {
	e := newExtractor(t)
	r := httptest.NewRequest("GET", "/api/mock/users", nil)
	r.Header.Set(ShapeHeader, `{"type":"object","properties":{"id":{"type":"number"}}}`)
	got := e.FromRequest(r)
	if !got.Shape.IsJSONSchema {
		t.Fatal("schema shape not classified")
	}
}

func TestFromRequest_BodyShapeProperty(t *testing.T) {
	e := newExtractor(t)
	body := `{"shape":"{\"sku\":\"\"}","query":"give me a product"}`
	r := httptest.NewRequest("POST", "/api/mock/products", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	got := e.FromRequest(r)
	if got.Shape.Shape != `{"sku":""}` {
		t.Fatalf("body shape = %q", got.Shape.Shape)
	}
	if got.Body != body {
		t.Fatalf("raw body not preserved: %q", got.Body)
	}
}

func TestFromRequest_QueryWinsOverHeader(t *testing.T) {
	e := newExtractor(t)
	r := httptest.NewRequest("GET", `/api/mock/u?shape={"a":1}`, nil)
	r.Header.Set(ShapeHeader, `{"b":2}`)
	got := e.FromRequest(r)
	if got.Shape.Shape != `{"a":1}` {
		t.Fatalf("query should win, got %q", got.Shape.Shape)
	}
}

func TestParseShape_CacheHint(t *testing.T) {
	e := newExtractor(t)
	info := e.parseShape(`{"id":0,"$cache":3}`)
	if info.CacheCount != 3 {
		t.Fatalf("cache count = %d", info.CacheCount)
	}
	if strings.Contains(info.Shape, "$cache") {
		t.Fatalf("hint not stripped: %q", info.Shape)
	}
}

func TestParseShape_CacheHintClamped(t *testing.T) {
	e := newExtractor(t)
	if info := e.parseShape(`{"id":0,"$cache":999}`); info.CacheCount != 10 {
		t.Fatalf("cache count = %d, want clamp to 10", info.CacheCount)
	}
	if info := e.parseShape(`{"id":0,"$cache":-5}`); info.CacheCount != 0 {
		t.Fatalf("negative cache should clamp to 0, got %d", info.CacheCount)
	}
}

func TestParseShape_ErrorHint(t *testing.T) {
	e := newExtractor(t)
	info := e.parseShape(`{"id":0,"$error":{"status":418,"message":"teapot"}}`)
	if info.ErrorConfig == nil {
		t.Fatal("error config missing")
	}
	if info.ErrorConfig.Status != 418 || info.ErrorConfig.Message != "teapot" {
		t.Fatalf("error config = %+v", info.ErrorConfig)
	}
	if strings.Contains(info.Shape, "$error") {
		t.Fatalf("hint not stripped: %q", info.Shape)
	}
}

func TestParseShape_TextualHints(t *testing.T) {
	e := newExtractor(t)
	info := e.parseShape(`a list of users, $cache:4`)
	if info.CacheCount != 4 {
		t.Fatalf("cache count = %d", info.CacheCount)
	}
	if strings.Contains(info.Shape, "$cache") {
		t.Fatalf("hint not stripped: %q", info.Shape)
	}
}

func TestFromRequest_FormBody(t *testing.T) {
	e := newExtractor(t)
	r := httptest.NewRequest("POST", "/api/mock/orders", strings.NewReader("name=widget&tag=a&tag=b"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	got := e.FromRequest(r)

	root, err := jsontree.ParseString(got.Body)
	if err != nil {
		t.Fatalf("form body is not JSON: %v (%q)", err, got.Body)
	}
	if v, _ := root.Get("name").Text(); v != "widget" {
		t.Fatalf("name = %q", v)
	}
	tags := root.Get("tag")
	if tags == nil || tags.Kind != jsontree.Arr || len(tags.Items) != 2 {
		t.Fatalf("repeated key should become array: %q", got.Body)
	}
}

func TestFromRequest_MultipartDrainsFiles(t *testing.T) {
	e := newExtractor(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, _ := w.CreateFormFile("upload", "big.bin")
	fw.Write(bytes.Repeat([]byte{0xAB}, 200*1024))
	w.WriteField("note", "hello")
	w.Close()

	r := httptest.NewRequest("POST", "/api/mock/files", &buf)
	r.Header.Set("Content-Type", w.FormDataContentType())
	got := e.FromRequest(r)

	root, err := jsontree.ParseString(got.Body)
	if err != nil {
		t.Fatalf("multipart body is not JSON: %v", err)
	}
	if v, _ := root.Get("note").Text(); v != "hello" {
		t.Fatalf("note = %q", v)
	}
	file := root.Get("files").Index(0)
	if file == nil {
		t.Fatal("file metadata missing")
	}
	if name, _ := file.Get("filename").Text(); name != "big.bin" {
		t.Fatalf("filename = %q", name)
	}
	if size, _ := file.Get("size").Float(); int(size) != 200*1024 {
		t.Fatalf("size = %v", size)
	}
	// The file content itself must not be in the synthesized body.
	if len(got.Body) > 4096 {
		t.Fatalf("body unexpectedly large (%d bytes) — file content retained?", len(got.Body))
	}
}

func TestFingerprint_Stability(t *testing.T) {
	withShape := func(s string) entity.ShapeInfo { return entity.ShapeInfo{Shape: s} }

	a := Fingerprint("GET", "/api/mock/users/", withShape(`{"b":1,"a":2}`))
	b := Fingerprint("get", "/api/mock/users?page=3", withShape(`{"a":2,"b":1}`))
	if a != b {
		t.Fatalf("fingerprints differ: %s vs %s", a, b)
	}

	c := Fingerprint("POST", "/api/mock/users", withShape(`{"a":2,"b":1}`))
	if a == c {
		t.Fatal("method must be part of the fingerprint")
	}

	d := Fingerprint("GET", "/api/mock/users", withShape(`{"a":2}`))
	if a == d {
		t.Fatal("shape must be part of the fingerprint")
	}
}
