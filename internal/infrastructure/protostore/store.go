// Package protostore holds uploaded gRPC descriptor-set blobs and renders
// message descriptors into example-JSON shapes usable by the synthesis
// pipeline.
package protostore

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/mockforge/mockforge/pkg/jsontree"
)

// ProtoInfo is the management-surface view of one uploaded blob.
type ProtoInfo struct {
	Name      string    `json:"name"`
	Messages  []string  `json:"messages"`
	SizeBytes int       `json:"size_bytes"`
	LoadedAt  time.Time `json:"loaded_at"`
}

type protoEntry struct {
	raw      []byte
	shapes   map[string]string // full message name → example JSON
	loadedAt time.Time
}

// Store is the process-wide proto registry.
type Store struct {
	mu    sync.RWMutex
	blobs map[string]*protoEntry
}

// NewStore creates an empty proto store.
func NewStore() *Store {
	return &Store{blobs: make(map[string]*protoEntry)}
}

// Add parses a serialized FileDescriptorSet and registers the shapes of
// every message it declares.
func (s *Store) Add(name string, data []byte) error {
	var fds descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &fds); err != nil {
		return fmt.Errorf("parse descriptor set %q: %w", name, err)
	}
	files, err := protodesc.NewFiles(&fds)
	if err != nil {
		return fmt.Errorf("resolve descriptor set %q: %w", name, err)
	}

	shapes := make(map[string]string)
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		msgs := fd.Messages()
		for i := 0; i < msgs.Len(); i++ {
			md := msgs.Get(i)
			shapes[string(md.FullName())] = messageShape(md, 0).Render()
		}
		return true
	})
	if len(shapes) == 0 {
		return fmt.Errorf("descriptor set %q declares no messages", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[name] = &protoEntry{raw: append([]byte(nil), data...), shapes: shapes, loadedAt: time.Now()}
	return nil
}

// Get returns one blob's raw bytes.
func (s *Store) Get(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.blobs[name]
	if !ok {
		return nil, false
	}
	return e.raw, true
}

// Remove drops one blob. Reports whether it existed.
func (s *Store) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[name]; !ok {
		return false
	}
	delete(s.blobs, name)
	return true
}

// List summarizes every blob, name-sorted.
func (s *Store) List() []ProtoInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProtoInfo, 0, len(s.blobs))
	for name, e := range s.blobs {
		msgs := make([]string, 0, len(e.shapes))
		for m := range e.shapes {
			msgs = append(msgs, m)
		}
		sort.Strings(msgs)
		out = append(out, ProtoInfo{Name: name, Messages: msgs, SizeBytes: len(e.raw), LoadedAt: e.loadedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ShapeFor returns the example-JSON shape of a message by full name or by
// unqualified suffix.
func (s *Store) ShapeFor(message string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.blobs {
		if shape, ok := e.shapes[message]; ok {
			return shape, true
		}
	}
	// Unqualified lookup.
	for _, e := range s.blobs {
		for full, shape := range e.shapes {
			if strings.HasSuffix(full, "."+message) {
				return shape, true
			}
		}
	}
	return "", false
}

const maxShapeDepth = 4

// messageShape renders a message descriptor as an example JSON object with
// zero-ish placeholder values. Recursion is depth-capped so self-referential
// messages terminate.
func messageShape(md protoreflect.MessageDescriptor, depth int) *jsontree.Node {
	obj := jsontree.NewObj()
	if depth >= maxShapeDepth {
		return obj
	}
	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		name := fd.JSONName()
		value := fieldShape(fd, depth)
		if fd.IsList() {
			value = jsontree.NewArr(value)
		}
		obj.Set(name, value)
	}
	return obj
}

func fieldShape(fd protoreflect.FieldDescriptor, depth int) *jsontree.Node {
	if fd.IsMap() {
		obj := jsontree.NewObj()
		obj.Set("key", fieldShape(fd.MapValue(), depth+1))
		return obj
	}
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return &jsontree.Node{Kind: jsontree.Bool}
	case protoreflect.StringKind, protoreflect.BytesKind:
		return jsontree.NewStr("")
	case protoreflect.EnumKind:
		values := fd.Enum().Values()
		if values.Len() > 0 {
			return jsontree.NewStr(string(values.Get(0).Name()))
		}
		return jsontree.NewStr("")
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return messageShape(fd.Message(), depth+1)
	default:
		return jsontree.NewNum("0")
	}
}
