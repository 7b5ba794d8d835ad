package jsontree

import (
	"fmt"
	"strings"
)

// ExtractChatContent pulls the generated text out of a chat-completion
// envelope: choices[0].message.content first, then any top-level "content"
// or "response" string. Works for OpenAI-compatible and Ollama-native bodies
// without decoding into provider structs.
func ExtractChatContent(raw []byte) (string, error) {
	root, err := Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse completion envelope: %w", err)
	}

	if content, ok := root.Lookup("choices").Index(0).Lookup("message", "content").Text(); ok {
		return content, nil
	}
	// Ollama native: {"message":{"content":...}}
	if content, ok := root.Lookup("message", "content").Text(); ok {
		return content, nil
	}
	if content, ok := root.Get("content").Text(); ok {
		return content, nil
	}
	if content, ok := root.Get("response").Text(); ok {
		return content, nil
	}
	return "", fmt.Errorf("no content field in completion envelope")
}

// LooksLikeSchema reports whether a shape document is a JSON Schema rather
// than a descriptive example: the outer object carries "type" or "properties".
func LooksLikeSchema(root *Node) bool {
	if root == nil || root.Kind != Obj {
		return false
	}
	if _, ok := root.Get("type").Text(); ok {
		return true
	}
	return root.Get("properties") != nil
}

// StripCodeFence removes a leading/trailing markdown code fence the model may
// have wrapped around its JSON despite instructions.
func StripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	// Drop an optional language tag on the fence line.
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		first := strings.TrimSpace(trimmed[:idx])
		if first == "json" || first == "" {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// Valid reports whether s parses as a single JSON document.
func Valid(s string) bool {
	_, err := ParseString(s)
	return err == nil
}

// MergeCollections concatenates the named array across several documents and
// returns the first document with the merged array in place. When arrayKey is
// empty the documents themselves are expected to be arrays and a flat array
// is returned. Used to reassemble chunked generations.
func MergeCollections(docs []*Node, arrayKey string) (*Node, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("no documents to merge")
	}
	if arrayKey == "" {
		out := &Node{Kind: Arr}
		for _, doc := range docs {
			if doc == nil || doc.Kind != Arr {
				return nil, fmt.Errorf("chunk is not an array")
			}
			out.Items = append(out.Items, doc.Items...)
		}
		return out, nil
	}

	base := docs[0].Clone()
	merged := base.Get(arrayKey)
	if merged == nil || merged.Kind != Arr {
		return nil, fmt.Errorf("first chunk has no array %q", arrayKey)
	}
	for _, doc := range docs[1:] {
		arr := doc.Get(arrayKey)
		if arr == nil || arr.Kind != Arr {
			// A chunk that lost the collection contributes nothing.
			continue
		}
		merged.Items = append(merged.Items, arr.Items...)
	}
	return base, nil
}
