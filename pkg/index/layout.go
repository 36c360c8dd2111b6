package index

import (
	"path"
	"strings"
)

// ConfigFileName is the name of the public index configuration file at the
// repository root.
const ConfigFileName = "config.json"

// CratePath returns the sharded repository path for a crate file, following
// the cargo on-disk convention:
//
//	1 char   1/<name>
//	2 chars  2/<name>
//	3 chars  3/<first>/<name>
//	4+ chars <first two>/<next two>/<name>
//
// Path segments are lowercased; the records inside the file keep the
// canonical casing.
func CratePath(name string) string {
	lower := strings.ToLower(name)
	switch len(lower) {
	case 0:
		return ""
	case 1:
		return path.Join("1", lower)
	case 2:
		return path.Join("2", lower)
	case 3:
		return path.Join("3", lower[:1], lower)
	default:
		return path.Join(lower[:2], lower[2:4], lower)
	}
}
