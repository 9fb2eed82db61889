package core

import "maps"

// CloneMap returns a shallow copy of src. A nil map clones to nil.
func CloneMap[K comparable, V any](src map[K]V) map[K]V {
	if src == nil {
		return nil
	}
	out := make(map[K]V, len(src))
	maps.Copy(out, src)
	return out
}
