// Package jsontree carries JSON documents as a tree of tagged variants.
//
// Response shapes are user-supplied and open-ended, so the hot path never
// decodes into generated struct types. Every traversal — envelope content
// extraction, shared-key scanning, array merging — walks this tree with
// explicit recursion.
package jsontree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind discriminates the variant held by a Node.
type Kind int

const (
	Null Kind = iota
	Bool
	Num
	Str
	Arr
	Obj
)

// String returns a human-readable label for the kind.
func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Num:
		return "number"
	case Str:
		return "string"
	case Arr:
		return "array"
	case Obj:
		return "object"
	default:
		return "unknown"
	}
}

// Node is one JSON value. Exactly one of the payload fields is meaningful,
// selected by Kind. Object member order is preserved in Keys so re-rendered
// documents stay stable.
type Node struct {
	Kind Kind

	BoolVal bool
	NumRaw  string // original textual form, avoids float round-trips
	StrVal  string
	Items   []*Node
	Fields  map[string]*Node
	Keys    []string
}

// Parse decodes raw JSON into a Node tree using a token walk.
func Parse(data []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	node, err := parseValue(dec)
	if err != nil {
		return nil, err
	}

	// Reject trailing garbage after the first document.
	if dec.More() {
		return nil, fmt.Errorf("unexpected trailing content after JSON value")
	}
	return node, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Node, error) {
	return Parse([]byte(s))
}

func parseValue(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	return parseToken(dec, tok)
}

func parseToken(dec *json.Decoder, tok json.Token) (*Node, error) {
	switch v := tok.(type) {
	case nil:
		return &Node{Kind: Null}, nil
	case bool:
		return &Node{Kind: Bool, BoolVal: v}, nil
	case json.Number:
		return &Node{Kind: Num, NumRaw: v.String()}, nil
	case string:
		return &Node{Kind: Str, StrVal: v}, nil
	case json.Delim:
		switch v {
		case '{':
			return parseObject(dec)
		case '[':
			return parseArray(dec)
		}
	}
	return nil, fmt.Errorf("unexpected JSON token %v", tok)
}

func parseObject(dec *json.Decoder) (*Node, error) {
	n := &Node{Kind: Obj, Fields: make(map[string]*Node)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("object key is not a string: %v", keyTok)
		}
		val, err := parseValue(dec)
		if err != nil {
			return nil, err
		}
		if _, exists := n.Fields[key]; !exists {
			n.Keys = append(n.Keys, key)
		}
		n.Fields[key] = val
	}
	// Consume closing '}'
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read object end: %w", err)
	}
	return n, nil
}

func parseArray(dec *json.Decoder) (*Node, error) {
	n := &Node{Kind: Arr}
	for dec.More() {
		val, err := parseValue(dec)
		if err != nil {
			return nil, err
		}
		n.Items = append(n.Items, val)
	}
	// Consume closing ']'
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read array end: %w", err)
	}
	return n, nil
}

// NewObj returns an empty object node.
func NewObj() *Node {
	return &Node{Kind: Obj, Fields: make(map[string]*Node)}
}

// NewStr returns a string node.
func NewStr(s string) *Node { return &Node{Kind: Str, StrVal: s} }

// NewNum returns a number node from its textual form.
func NewNum(raw string) *Node { return &Node{Kind: Num, NumRaw: raw} }

// NewArr returns an array node over the given items.
func NewArr(items ...*Node) *Node { return &Node{Kind: Arr, Items: items} }

// Set adds or replaces an object member, preserving first-seen key order.
func (n *Node) Set(key string, val *Node) {
	if n.Kind != Obj {
		return
	}
	if n.Fields == nil {
		n.Fields = make(map[string]*Node)
	}
	if _, exists := n.Fields[key]; !exists {
		n.Keys = append(n.Keys, key)
	}
	n.Fields[key] = val
}

// Get returns the object member for key, or nil.
func (n *Node) Get(key string) *Node {
	if n == nil || n.Kind != Obj {
		return nil
	}
	return n.Fields[key]
}

// Index returns the i-th array element, or nil when out of range.
func (n *Node) Index(i int) *Node {
	if n == nil || n.Kind != Arr || i < 0 || i >= len(n.Items) {
		return nil
	}
	return n.Items[i]
}

// Lookup descends through object members by key. Nil-safe at every step.
func (n *Node) Lookup(path ...string) *Node {
	cur := n
	for _, key := range path {
		cur = cur.Get(key)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Text returns the node's string value, or ("", false) for non-strings.
func (n *Node) Text() (string, bool) {
	if n == nil || n.Kind != Str {
		return "", false
	}
	return n.StrVal, true
}

// Float returns the node's numeric value, or (0, false) for non-numbers.
func (n *Node) Float() (float64, bool) {
	if n == nil || n.Kind != Num {
		return 0, false
	}
	f, err := strconv.ParseFloat(n.NumRaw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Render serializes the tree back to compact JSON.
func (n *Node) Render() string {
	var sb strings.Builder
	n.render(&sb)
	return sb.String()
}

func (n *Node) render(sb *strings.Builder) {
	if n == nil {
		sb.WriteString("null")
		return
	}
	switch n.Kind {
	case Null:
		sb.WriteString("null")
	case Bool:
		if n.BoolVal {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case Num:
		if n.NumRaw == "" {
			sb.WriteString("0")
		} else {
			sb.WriteString(n.NumRaw)
		}
	case Str:
		b, _ := json.Marshal(n.StrVal)
		sb.Write(b)
	case Arr:
		sb.WriteByte('[')
		for i, item := range n.Items {
			if i > 0 {
				sb.WriteByte(',')
			}
			item.render(sb)
		}
		sb.WriteByte(']')
	case Obj:
		sb.WriteByte('{')
		for i, key := range n.Keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, _ := json.Marshal(key)
			sb.Write(kb)
			sb.WriteByte(':')
			n.Fields[key].render(sb)
		}
		sb.WriteByte('}')
	}
}

// CanonicalRender serializes with object keys sorted. Used for fingerprinting
// so shapes that differ only in member order hash identically.
func (n *Node) CanonicalRender() string {
	var sb strings.Builder
	n.canonicalRender(&sb)
	return sb.String()
}

func (n *Node) canonicalRender(sb *strings.Builder) {
	if n == nil {
		sb.WriteString("null")
		return
	}
	if n.Kind != Obj {
		if n.Kind == Arr {
			sb.WriteByte('[')
			for i, item := range n.Items {
				if i > 0 {
					sb.WriteByte(',')
				}
				item.canonicalRender(sb)
			}
			sb.WriteByte(']')
			return
		}
		n.render(sb)
		return
	}
	keys := make([]string, len(n.Keys))
	copy(keys, n.Keys)
	sort.Strings(keys)
	sb.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		kb, _ := json.Marshal(key)
		sb.Write(kb)
		sb.WriteByte(':')
		n.Fields[key].canonicalRender(sb)
	}
	sb.WriteByte('}')
}

// Visitor receives each node with its dotted path ("" for the root,
// "a.b[2].c" for nested members).
type Visitor func(path string, n *Node)

// Walk visits every node depth-first in document order.
func (n *Node) Walk(visit Visitor) {
	n.walk("", visit)
}

func (n *Node) walk(path string, visit Visitor) {
	if n == nil {
		return
	}
	visit(path, n)
	switch n.Kind {
	case Obj:
		for _, key := range n.Keys {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			n.Fields[key].walk(childPath, visit)
		}
	case Arr:
		for i, item := range n.Items {
			item.walk(path+"["+strconv.Itoa(i)+"]", visit)
		}
	}
}

// FirstArray returns the first array member of an object (document order),
// along with its key. When the root itself is an array it is returned with an
// empty key. Used to locate the "collection" a shape describes.
func (n *Node) FirstArray() (string, *Node) {
	if n == nil {
		return "", nil
	}
	if n.Kind == Arr {
		return "", n
	}
	if n.Kind != Obj {
		return "", nil
	}
	for _, key := range n.Keys {
		if child := n.Fields[key]; child != nil && child.Kind == Arr {
			return key, child
		}
	}
	return "", nil
}

// Clone deep-copies the tree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Kind: n.Kind, BoolVal: n.BoolVal, NumRaw: n.NumRaw, StrVal: n.StrVal}
	if n.Items != nil {
		out.Items = make([]*Node, len(n.Items))
		for i, item := range n.Items {
			out.Items[i] = item.Clone()
		}
	}
	if n.Fields != nil {
		out.Fields = make(map[string]*Node, len(n.Fields))
		out.Keys = append([]string(nil), n.Keys...)
		for k, v := range n.Fields {
			out.Fields[k] = v.Clone()
		}
	}
	return out
}
