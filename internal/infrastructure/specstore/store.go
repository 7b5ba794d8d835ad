// Package specstore loads OpenAPI/Swagger documents and serves them as
// shape sources: when a mock request matches a loaded operation, its
// response schema becomes the default shape.
package specstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mockforge/mockforge/pkg/jsontree"
)

// route is one operation's extracted response shape.
type route struct {
	method string
	// segments is the templated path split on "/"; "{param}" segments
	// match any value.
	segments []string
	shape    string
	isSchema bool
}

// SpecInfo is the management-surface view of a loaded spec.
type SpecInfo struct {
	Name      string    `json:"name"`
	Routes    int       `json:"routes"`
	LoadedAt  time.Time `json:"loaded_at"`
	SizeBytes int       `json:"size_bytes"`
}

type specEntry struct {
	raw      []byte
	routes   []route
	loadedAt time.Time
}

// Store is the process-wide spec registry.
type Store struct {
	mu     sync.RWMutex
	specs  map[string]*specEntry
	dir    string
	logger *zap.Logger
}

// NewStore creates a spec store. dir may be empty when specs are only
// managed through the HTTP surface.
func NewStore(dir string, logger *zap.Logger) *Store {
	return &Store{
		specs:  make(map[string]*specEntry),
		dir:    dir,
		logger: logger.With(zap.String("component", "spec-store")),
	}
}

// Add parses and registers one spec document (YAML or JSON).
func (s *Store) Add(name string, data []byte) error {
	routes, err := parseSpec(data)
	if err != nil {
		return fmt.Errorf("parse spec %q: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[name] = &specEntry{raw: append([]byte(nil), data...), routes: routes, loadedAt: time.Now()}
	s.logger.Info("Spec loaded", zap.String("spec", name), zap.Int("routes", len(routes)))
	return nil
}

// Test parses a document without registering it, reporting how many routes
// it would contribute.
func (s *Store) Test(data []byte) (int, error) {
	routes, err := parseSpec(data)
	if err != nil {
		return 0, err
	}
	return len(routes), nil
}

// Remove drops one spec. Reports whether it existed.
func (s *Store) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.specs[name]; !ok {
		return false
	}
	delete(s.specs, name)
	return true
}

// Get returns one spec's raw document.
func (s *Store) Get(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.specs[name]
	if !ok {
		return nil, false
	}
	return e.raw, true
}

// List returns every loaded spec's summary, name-sorted.
func (s *Store) List() []SpecInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SpecInfo, 0, len(s.specs))
	for name, e := range s.specs {
		out = append(out, SpecInfo{Name: name, Routes: len(e.routes), LoadedAt: e.loadedAt, SizeBytes: len(e.raw)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ShapeFor returns the response shape of the operation matching (method,
// path), when any loaded spec declares one. Templated segments match any
// value.
func (s *Store) ShapeFor(method, path string) (string, bool, bool) {
	segments := splitPath(path)
	method = strings.ToUpper(method)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.specs {
		for _, r := range e.routes {
			if r.method == method && segmentsMatch(r.segments, segments) {
				return r.shape, r.isSchema, true
			}
		}
	}
	return "", false, false
}

// Reload re-reads every spec file from the configured directory.
func (s *Store) Reload() error {
	if s.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read spec dir: %w", err)
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(ent.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, ent.Name()))
		if err != nil {
			s.logger.Warn("Spec file unreadable", zap.String("file", ent.Name()), zap.Error(err))
			continue
		}
		if err := s.Add(strings.TrimSuffix(ent.Name(), ext), data); err != nil {
			s.logger.Warn("Spec file rejected", zap.String("file", ent.Name()), zap.Error(err))
		}
	}
	return nil
}

// parseSpec extracts (method, path) → response schema from an OpenAPI or
// Swagger document. YAML is a superset of JSON, so one decoder covers both.
func parseSpec(data []byte) ([]route, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	root := toNode(doc)
	if root == nil || root.Kind != jsontree.Obj {
		return nil, fmt.Errorf("document is not a mapping")
	}
	paths := root.Get("paths")
	if paths == nil || paths.Kind != jsontree.Obj {
		return nil, fmt.Errorf("document has no paths object")
	}

	components := root.Lookup("components", "schemas")
	if components == nil {
		components = root.Get("definitions") // Swagger 2.0
	}

	var routes []route
	for _, pathKey := range paths.Keys {
		ops := paths.Fields[pathKey]
		if ops == nil || ops.Kind != jsontree.Obj {
			continue
		}
		for _, methodKey := range ops.Keys {
			method := strings.ToUpper(methodKey)
			switch method {
			case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS":
			default:
				continue
			}
			schema := responseSchema(ops.Fields[methodKey], components)
			if schema == nil {
				continue
			}
			routes = append(routes, route{
				method:   method,
				segments: splitPath(pathKey),
				shape:    schema.Render(),
				isSchema: jsontree.LooksLikeSchema(schema),
			})
		}
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("no operations with response schemas")
	}
	return routes, nil
}

// responseSchema walks responses.<2xx>.content.<json>.schema (OpenAPI 3) or
// responses.<2xx>.schema (Swagger 2), resolving one level of $ref.
func responseSchema(op *jsontree.Node, components *jsontree.Node) *jsontree.Node {
	responses := op.Get("responses")
	if responses == nil || responses.Kind != jsontree.Obj {
		return nil
	}
	for _, code := range []string{"200", "201", "2XX", "default"} {
		resp := responses.Get(code)
		if resp == nil {
			continue
		}
		schema := resp.Lookup("content", "application/json", "schema")
		if schema == nil {
			schema = resp.Get("schema")
		}
		if schema == nil {
			continue
		}
		return resolveRef(schema, components)
	}
	return nil
}

func resolveRef(schema, components *jsontree.Node) *jsontree.Node {
	ref, ok := schema.Get("$ref").Text()
	if !ok {
		return schema
	}
	// "#/components/schemas/User" or "#/definitions/User"
	name := ref[strings.LastIndexByte(ref, '/')+1:]
	if resolved := components.Get(name); resolved != nil {
		return resolved
	}
	return schema
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func segmentsMatch(pattern, actual []string) bool {
	if len(pattern) != len(actual) {
		return false
	}
	for i, seg := range pattern {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			continue
		}
		if !strings.EqualFold(seg, actual[i]) {
			return false
		}
	}
	return true
}

// toNode converts a yaml-decoded value into a jsontree node.
func toNode(v any) *jsontree.Node {
	switch val := v.(type) {
	case nil:
		return &jsontree.Node{Kind: jsontree.Null}
	case bool:
		return &jsontree.Node{Kind: jsontree.Bool, BoolVal: val}
	case int:
		return jsontree.NewNum(fmt.Sprintf("%d", val))
	case int64:
		return jsontree.NewNum(fmt.Sprintf("%d", val))
	case float64:
		return jsontree.NewNum(strings.TrimSuffix(fmt.Sprintf("%g", val), ".0"))
	case string:
		return jsontree.NewStr(val)
	case []any:
		items := make([]*jsontree.Node, 0, len(val))
		for _, item := range val {
			items = append(items, toNode(item))
		}
		return jsontree.NewArr(items...)
	case map[string]any:
		obj := jsontree.NewObj()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			obj.Set(k, toNode(val[k]))
		}
		return obj
	default:
		return jsontree.NewStr(fmt.Sprintf("%v", val))
	}
}
