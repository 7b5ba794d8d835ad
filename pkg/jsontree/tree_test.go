package jsontree

import "testing"

func TestParse_RoundTrip(t *testing.T) {
	in := `{"id":1,"name":"x","tags":["a","b"],"meta":{"ok":true,"score":1.5},"none":null}`
	root, err := ParseString(in)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := root.Render(); got != in {
		t.Fatalf("render mismatch:\n in: %s\nout: %s", in, got)
	}
}

func TestParse_RejectsTrailingGarbage(t *testing.T) {
	if _, err := ParseString(`{"a":1} {"b":2}`); err == nil {
		t.Fatal("expected error for trailing content")
	}
}

func TestCanonicalRender_SortsKeys(t *testing.T) {
	a, err := ParseString(`{"b":1,"a":{"y":2,"x":1}}`)
	if err != nil {
		t.Fatalf("parse a: %v", err)
	}
	b, err := ParseString(`{"a":{"x":1,"y":2},"b":1}`)
	if err != nil {
		t.Fatalf("parse b: %v", err)
	}
	if a.CanonicalRender() != b.CanonicalRender() {
		t.Fatalf("canonical forms differ: %s vs %s", a.CanonicalRender(), b.CanonicalRender())
	}
}

func TestLookup_NilSafe(t *testing.T) {
	root, _ := ParseString(`{"a":{"b":"c"}}`)
	if v, ok := root.Lookup("a", "b").Text(); !ok || v != "c" {
		t.Fatalf("lookup a.b = %q, %v", v, ok)
	}
	if root.Lookup("a", "missing", "deeper") != nil {
		t.Fatal("missing path should be nil")
	}
	if root.Lookup("x").Index(3).Get("y") != nil {
		t.Fatal("chained misses should stay nil")
	}
}

func TestWalk_Paths(t *testing.T) {
	root, _ := ParseString(`{"users":[{"id":"u1"}],"total":1}`)
	paths := map[string]bool{}
	root.Walk(func(path string, n *Node) {
		paths[path] = true
	})
	for _, want := range []string{"", "users", "users[0]", "users[0].id", "total"} {
		if !paths[want] {
			t.Fatalf("missing visited path %q (got %v)", want, paths)
		}
	}
}

func TestFirstArray(t *testing.T) {
	root, _ := ParseString(`{"total":3,"items":[1,2,3],"extra":[4]}`)
	key, arr := root.FirstArray()
	if key != "items" || arr == nil || len(arr.Items) != 3 {
		t.Fatalf("first array = %q, %v", key, arr)
	}

	rootArr, _ := ParseString(`[1,2]`)
	key, arr = rootArr.FirstArray()
	if key != "" || arr == nil {
		t.Fatal("root array should be returned with empty key")
	}
}

func TestExtractChatContent(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"openai", `{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`, "hello"},
		{"ollama", `{"model":"llama3","message":{"role":"assistant","content":"hi"}}`, "hi"},
		{"flat content", `{"content":"flat"}`, "flat"},
		{"flat response", `{"response":"resp"}`, "resp"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractChatContent([]byte(tc.body))
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}

	if _, err := ExtractChatContent([]byte(`{"choices":[]}`)); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct{ in, want string }{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
	}
	for _, tc := range cases {
		if got := StripCodeFence(tc.in); got != tc.want {
			t.Fatalf("StripCodeFence(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLooksLikeSchema(t *testing.T) {
	schema, _ := ParseString(`{"type":"object","properties":{"id":{"type":"number"}}}`)
	if !LooksLikeSchema(schema) {
		t.Fatal("schema not detected")
	}
	example, _ := ParseString(`{"id":0,"name":""}`)
	if LooksLikeSchema(example) {
		t.Fatal("example misdetected as schema")
	}
}

func TestMergeCollections(t *testing.T) {
	a, _ := ParseString(`{"total":2,"items":[{"id":1},{"id":2}]}`)
	b, _ := ParseString(`{"total":2,"items":[{"id":3}]}`)
	merged, err := MergeCollections([]*Node{a, b}, "items")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := len(merged.Get("items").Items); got != 3 {
		t.Fatalf("merged %d items, want 3", got)
	}

	x, _ := ParseString(`[1,2]`)
	y, _ := ParseString(`[3]`)
	flat, err := MergeCollections([]*Node{x, y}, "")
	if err != nil {
		t.Fatalf("merge arrays: %v", err)
	}
	if len(flat.Items) != 3 {
		t.Fatalf("flat merged %d items, want 3", len(flat.Items))
	}
}
