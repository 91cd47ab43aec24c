// Package resticrepo is the Repository Surface (C5): it projects Restic's
// flat {type}/{name} addressing onto the Namespace Engine, including the
// two-level hex sharding of the data/ directory.
package resticrepo

import "fmt"

// Type is one of the six Restic object types.
type Type string

// The six Restic types. Config is the only one that is a single file at
// the repository root rather than a subdirectory.
const (
	TypeConfig    Type = "config"
	TypeData      Type = "data"
	TypeKeys      Type = "keys"
	TypeLocks     Type = "locks"
	TypeSnapshots Type = "snapshots"
	TypeIndex     Type = "index"
)

// dirTypes are the five types that map to a same-named subdirectory of the
// repository root. TypeConfig is deliberately absent: it has no directory
// and no list operation.
var dirTypes = []Type{TypeData, TypeKeys, TypeLocks, TypeSnapshots, TypeIndex}

// ParseType validates a path segment as one of the six Restic types.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeConfig, TypeData, TypeKeys, TypeLocks, TypeSnapshots, TypeIndex:
		return Type(s), nil
	default:
		return "", fmt.Errorf("%w: unrecognized type %q", ErrBadRequest, s)
	}
}

// Entry is one listing row: [{name, size}] with Content-Type
// application/vnd.x.restic.rest.v2.
type Entry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// hexShardLen is the number of leading hex characters of a data filename
// used to select its shard directory (256 shards: 00-ff).
const hexShardLen = 2
