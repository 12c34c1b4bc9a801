package model

import "hash/fnv"

// numColorIDs matches the size of the downstream palette; color ids are
// stable across runs because they only depend on the hashed name.
const numColorIDs = 1024

// StringColorID deterministically maps a name to a color id. Color
// assignment proper is a downstream concern; the importer only needs a pure,
// stable function.
func StringColorID(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32() % numColorIDs
}
