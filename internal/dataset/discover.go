package dataset

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
)

var shardName = regexp.MustCompile(`^shard-\d{6,}\.tar$`)

// ShardIndex maps each dataset root to its sorted shard paths.
type ShardIndex map[string][]string

// Total returns the number of shards across all roots.
func (idx ShardIndex) Total() int {
	n := 0
	for _, shards := range idx {
		n += len(shards)
	}
	return n
}

// Roots returns the root names in sorted order.
func (idx ShardIndex) Roots() []string {
	roots := make([]string, 0, len(idx))
	for root := range idx {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots
}

// DiscoverShards walks root and returns every shard-NNNNNN.tar beneath it,
// sorted by path.
func DiscoverShards(root string) ([]string, error) {
	var shards []string
	walk := func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case !d.IsDir() && shardName.MatchString(d.Name()):
			shards = append(shards, path)
		}
		return nil
	}
	if err := filepath.WalkDir(root, walk); err != nil {
		return nil, fmt.Errorf("discover shards under %s: %w", root, err)
	}
	sort.Strings(shards)
	return shards, nil
}

// IndexShards discovers the shards of every root. Each root must hold at
// least one shard.
func IndexShards(roots []string) (ShardIndex, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("discover shards: no roots given")
	}
	idx := make(ShardIndex, len(roots))
	for _, root := range roots {
		shards, err := DiscoverShards(root)
		if err != nil {
			return nil, err
		}
		if len(shards) == 0 {
			return nil, fmt.Errorf("discover shards: none under %s", root)
		}
		idx[root] = shards
	}
	return idx, nil
}
