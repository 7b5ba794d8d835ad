// Package shape pulls the response-shape hint out of an inbound request and
// computes the request fingerprint used as the variant-cache key.
package shape

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/domain/entity"
	"github.com/mockforge/mockforge/pkg/jsontree"
)

// ShapeHeader is the header equivalent of the ?shape= query parameter.
const ShapeHeader = "X-Response-Shape"

const (
	cacheHintKey = "$cache"
	errorHintKey = "$error"

	// multipart file parts are drained in bounded chunks; only metadata
	// is retained so memory stays O(1) w.r.t. upload size.
	drainChunkSize = 32 * 1024
	maxFormValue   = 64 * 1024
)

var (
	cacheHintText = regexp.MustCompile(`"?\$cache"?\s*:\s*(\d+)\s*,?`)
	errorHintText = regexp.MustCompile(`"?\$error"?\s*:\s*(\{[^{}]*\})\s*,?`)
)

// Extractor reads shapes and bodies from inbound requests.
type Extractor struct {
	maxCachePerKey int
	logger         *zap.Logger
}

// NewExtractor creates a shape extractor. maxCachePerKey clamps $cache:N.
func NewExtractor(maxCachePerKey int, logger *zap.Logger) *Extractor {
	if maxCachePerKey <= 0 {
		maxCachePerKey = 10
	}
	return &Extractor{
		maxCachePerKey: maxCachePerKey,
		logger:         logger.With(zap.String("component", "shape-extractor")),
	}
}

// Extracted is the outcome of reading one request.
type Extracted struct {
	Shape entity.ShapeInfo

	// Body is the request body as JSON text: the raw body for JSON
	// requests, or a synthesized object for form/multipart requests.
	Body string
}

// FromRequest extracts the shape (query parameter first, then header, then a
// top-level "shape" property in a JSON body) and normalizes the body.
// Extraction errors fall back to "no shape" — the request is still served.
func (e *Extractor) FromRequest(r *http.Request) Extracted {
	var out Extracted

	rawShape := strings.TrimSpace(r.URL.Query().Get("shape"))
	if rawShape == "" {
		rawShape = strings.TrimSpace(r.Header.Get(ShapeHeader))
	}

	contentType := r.Header.Get("Content-Type")
	mediaType := contentType
	var ctParams map[string]string
	if contentType != "" {
		if mt, params, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = mt
			ctParams = params
		}
	}

	switch {
	case r.Body == nil || r.ContentLength == 0 && r.Body == http.NoBody:
		// No body to read.
	case strings.HasPrefix(mediaType, "application/json"):
		body, bodyShape := e.readJSONBody(r.Body)
		out.Body = body
		if rawShape == "" {
			rawShape = bodyShape
		}
	case mediaType == "application/x-www-form-urlencoded":
		out.Body = e.readFormBody(r.Body)
	case strings.HasPrefix(mediaType, "multipart/form-data"):
		out.Body = e.readMultipartBody(r.Body, ctParams["boundary"])
	default:
		// Opaque bodies are passed through as text for the prompt.
		data, _ := io.ReadAll(io.LimitReader(r.Body, maxFormValue))
		out.Body = string(data)
	}

	out.Shape = e.parseShape(rawShape)
	return out
}

// parseShape splits $cache / $error hints out of the raw shape text and
// classifies the remainder.
func (e *Extractor) parseShape(raw string) entity.ShapeInfo {
	info := entity.ShapeInfo{}
	if raw == "" {
		return info
	}

	root, err := jsontree.ParseString(raw)
	if err == nil && root.Kind == jsontree.Obj {
		if cacheNode := root.Get(cacheHintKey); cacheNode != nil {
			if f, ok := cacheNode.Float(); ok {
				info.CacheCount = e.clampCache(int(f))
			}
			removeKey(root, cacheHintKey)
		}
		if errNode := root.Get(errorHintKey); errNode != nil {
			info.ErrorConfig = parseErrorConfig(errNode)
			removeKey(root, errorHintKey)
		}
		info.IsJSONSchema = jsontree.LooksLikeSchema(root)
		info.Shape = root.Render()
		return info
	}

	// Not a JSON object (or not JSON at all): strip textual hints.
	cleaned := raw
	if m := cacheHintText.FindStringSubmatch(cleaned); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			info.CacheCount = e.clampCache(n)
		}
		cleaned = cacheHintText.ReplaceAllString(cleaned, "")
	}
	if m := errorHintText.FindStringSubmatch(cleaned); m != nil {
		if errRoot, err := jsontree.ParseString(m[1]); err == nil {
			info.ErrorConfig = parseErrorConfig(errRoot)
		}
		cleaned = errorHintText.ReplaceAllString(cleaned, "")
	}
	info.Shape = strings.TrimSpace(cleaned)
	if reparsed, err := jsontree.ParseString(info.Shape); err == nil {
		info.IsJSONSchema = jsontree.LooksLikeSchema(reparsed)
	}
	return info
}

func (e *Extractor) clampCache(n int) int {
	if n < 0 {
		return 0
	}
	if n > e.maxCachePerKey {
		return e.maxCachePerKey
	}
	return n
}

func parseErrorConfig(n *jsontree.Node) *entity.ErrorConfig {
	cfg := &entity.ErrorConfig{}
	if f, ok := n.Get("status").Float(); ok {
		cfg.Status = int(f)
	} else if f, ok := n.Get("code").Float(); ok {
		cfg.Status = int(f)
	}
	if cfg.Status == 0 {
		cfg.Status = http.StatusInternalServerError
	}
	cfg.Message, _ = n.Get("message").Text()
	cfg.Details, _ = n.Get("details").Text()
	return cfg
}

func removeKey(n *jsontree.Node, key string) {
	delete(n.Fields, key)
	for i, k := range n.Keys {
		if k == key {
			n.Keys = append(n.Keys[:i], n.Keys[i+1:]...)
			return
		}
	}
}

// readJSONBody captures the raw JSON text and, when the top level is an
// object, its "shape" property rendered back to raw JSON.
func (e *Extractor) readJSONBody(body io.Reader) (string, string) {
	data, err := io.ReadAll(body)
	if err != nil {
		e.logger.Debug("Body read failed", zap.Error(err))
		return "", ""
	}
	raw := string(data)
	root, err := jsontree.Parse(data)
	if err != nil {
		return raw, ""
	}
	if shapeNode := root.Get("shape"); shapeNode != nil {
		if s, ok := shapeNode.Text(); ok {
			return raw, s
		}
		return raw, shapeNode.Render()
	}
	return raw, ""
}

// readFormBody converts urlencoded pairs to a JSON object; repeated keys
// become arrays.
func (e *Extractor) readFormBody(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxFormValue))
	if err != nil {
		return ""
	}
	values, err := url.ParseQuery(string(data))
	if err != nil {
		e.logger.Debug("Form parse failed", zap.Error(err))
		return ""
	}
	obj := jsontree.NewObj()
	for _, key := range sortedKeys(values) {
		vals := values[key]
		if len(vals) == 1 {
			obj.Set(key, jsontree.NewStr(vals[0]))
			continue
		}
		items := make([]*jsontree.Node, len(vals))
		for i, v := range vals {
			items[i] = jsontree.NewStr(v)
		}
		obj.Set(key, jsontree.NewArr(items...))
	}
	return obj.Render()
}

// readMultipartBody walks the parts: file parts are drained in bounded
// chunks and discarded (filename/size/content-type metadata is kept), value
// parts are merged as fields.
func (e *Extractor) readMultipartBody(body io.Reader, boundary string) string {
	if boundary == "" {
		return ""
	}
	mr := multipart.NewReader(body, boundary)
	obj := jsontree.NewObj()
	var files []*jsontree.Node

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			e.logger.Debug("Multipart part failed", zap.Error(err))
			break
		}

		if part.FileName() != "" {
			size := drainPart(part)
			meta := jsontree.NewObj()
			meta.Set("filename", jsontree.NewStr(part.FileName()))
			meta.Set("size", jsontree.NewNum(strconv.FormatInt(size, 10)))
			meta.Set("contentType", jsontree.NewStr(part.Header.Get("Content-Type")))
			files = append(files, meta)
		} else if name := part.FormName(); name != "" {
			data, _ := io.ReadAll(io.LimitReader(part, maxFormValue))
			obj.Set(name, jsontree.NewStr(string(data)))
		}
		part.Close()
	}

	if len(files) > 0 {
		obj.Set("files", jsontree.NewArr(files...))
	}
	return obj.Render()
}

// drainPart discards a file part chunk by chunk, returning the byte count.
func drainPart(part io.Reader) int64 {
	var total int64
	for {
		n, err := io.CopyN(io.Discard, part, drainChunkSize)
		total += n
		if err != nil {
			return total
		}
	}
}

func sortedKeys(values url.Values) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	// Stable body text keeps fingerprints stable for identical forms.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// String renders an Extracted for debug logging.
func (x Extracted) String() string {
	return fmt.Sprintf("shape=%q cache=%d err=%v", x.Shape.Shape, x.Shape.CacheCount, x.Shape.ErrorConfig != nil)
}
