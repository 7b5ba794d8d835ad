package shape

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/mockforge/mockforge/internal/domain/entity"
	"github.com/mockforge/mockforge/pkg/jsontree"
)

// Fingerprint is the stable hash of (method, normalized path, canonical
// shape). It keys the variant cache and the endpoint-statistics store.
func Fingerprint(method, path string, info entity.ShapeInfo) string {
	h := fnv.New64a()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{'|'})
	h.Write([]byte(NormalizePath(path)))
	h.Write([]byte{'|'})
	h.Write([]byte(CanonicalShape(info.Shape)))
	return fmt.Sprintf("%016x", h.Sum64())
}

// NormalizePath strips the query string and any trailing slash so volatile
// parameters don't fragment the cache.
func NormalizePath(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	path = strings.TrimRight(path, "/")
	if path == "" {
		return "/"
	}
	return strings.ToLower(path)
}

// CanonicalShape renders a shape with sorted object keys so member order
// doesn't fragment the cache. Non-JSON shapes hash as-is.
func CanonicalShape(shape string) string {
	if shape == "" {
		return ""
	}
	root, err := jsontree.ParseString(shape)
	if err != nil {
		return shape
	}
	return root.CanonicalRender()
}
