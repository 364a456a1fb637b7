package storage

import (
	"path"
	"regexp"
	"strings"
)

// Tile index files carry bare grid names like "616_62".
var tileIndexName = regexp.MustCompile(`^\d+_\d+$`)

// isOrderPayload reports whether an object key belongs to an order delivery:
// zip archives, JSON sidecars and point cloud tile index files. Anything else
// in the bucket is left alone.
func isOrderPayload(key string) bool {
	base := path.Base(key)
	switch strings.ToLower(path.Ext(base)) {
	case ".zip", ".json":
		return true
	}
	return tileIndexName.MatchString(base)
}
