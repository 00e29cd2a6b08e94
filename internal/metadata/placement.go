package metadata

import (
	"hash/fnv"
	"strconv"
)

// Place deterministically selects the owner of (metric, bin) from the sorted
// node set: a stable FNV hash of the key modulo the membership size. Any node
// computes the same owner without coordination as long as the views agree.
// Existing locations keep their recorded owner across membership changes;
// only new bins are placed into the updated ring.
func Place(metric string, bin int64, nodes []string) string {
	if len(nodes) == 0 {
		return ""
	}
	h := fnv.New32a()
	h.Write([]byte(metric))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(bin, 10)))
	return nodes[int(h.Sum32()%uint32(len(nodes)))]
}
