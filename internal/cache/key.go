package cache

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Key derives a cache key from the logical identity of a computation, such as
// the pipeline name followed by every source location it reads. Parts are
// length-prefixed so ("ab","c") and ("a","bc") differ.
func Key(parts ...string) string {
	d := xxhash.New()
	var buf [20]byte
	for _, p := range parts {
		_, _ = d.Write(strconv.AppendInt(buf[:0], int64(len(p)), 10))
		_, _ = d.WriteString(":")
		_, _ = d.WriteString(p)
	}
	return strconv.FormatUint(d.Sum64(), 16)
}
