// Package util provides shared logging, statistics and helper functions.
package util

import (
	"fmt"
	"hash/fnv"
)

// ShortID reduces a long identifier (a participant UUID or a room key) to an
// 8-hex-digit tag for log lines. The tag is for display only and may collide.
func ShortID(id string) string {
	h := fnv.New32a()
	h.Write([]byte(id))
	return fmt.Sprintf("%08x", h.Sum32())
}
