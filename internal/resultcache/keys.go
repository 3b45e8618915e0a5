// Package resultcache is a read-through cache in front of the query
// engine's hotmap and cell-taxa reads. It never changes query semantics:
// a cache miss or error always falls back to recomputing against the
// store, and entries expire on TTL or explicit invalidation from a
// rebuild.
package resultcache

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key builds a canonical, order-independent cache key for one query
// operation over (zoom, year range, slot set, extra params).
func Key(operation string, zoom, yearFrom, yearTo int, slots []int, extra string) string {
	sorted := append([]int(nil), slots...)
	sort.Ints(sorted)

	var b strings.Builder
	b.WriteString(operation)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(zoom))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(yearFrom))
	b.WriteByte('-')
	b.WriteString(strconv.Itoa(yearTo))
	b.WriteByte(':')
	for i, s := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(s))
	}
	if extra != "" {
		b.WriteByte(':')
		b.WriteString(extra)
	}
	canonical := b.String()

	sum := xxhash.Sum64String(canonical)
	return fmt.Sprintf("%s:%016x", operation, sum)
}

// ZoomSlotKeyPrefix returns the key space a rebuild_hotmap at (zoom, slot)
// can affect, for local-tier invalidation. Because Key hashes its inputs,
// invalidation for a (zoom, slot) is tracked out-of-band by the Cache's own
// index rather than by prefix match on the opaque hashed key.
func ZoomSlotKeyPrefix(zoom, slot int) string {
	return fmt.Sprintf("z=%d:s=%d", zoom, slot)
}
