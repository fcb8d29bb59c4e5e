package diff

import "hash/fnv"

// spanLimit caps the length of one hashed span so that files without
// newlines still produce useful similarity counts.
const spanLimit = 64

// spanCounts maps each span hash to the number of bytes carrying it. A
// span ends at a newline or after spanLimit bytes.
func spanCounts(buf []byte) map[uint64]int {
	counts := make(map[uint64]int)
	start := 0
	for i, c := range buf {
		if c == '\n' || i-start+1 == spanLimit {
			counts[spanHash(buf[start:i+1])] += i + 1 - start
			start = i + 1
		}
	}
	if start < len(buf) {
		counts[spanHash(buf[start:])] += len(buf) - start
	}
	return counts
}

func spanHash(span []byte) uint64 {
	h := fnv.New64a()
	h.Write(span)
	return h.Sum64()
}

// Estimate compares src with dst span by span. copied is the number of
// src bytes whose spans also occur in dst, added the number of dst bytes
// not accounted for by src.
func Estimate(src, dst []byte) (copied, added int) {
	srcCounts := spanCounts(src)
	dstCounts := spanCounts(dst)
	for h, n := range srcCounts {
		d := dstCounts[h]
		if d < n {
			copied += d
		} else {
			copied += n
		}
	}
	for h, d := range dstCounts {
		if n := srcCounts[h]; d > n {
			added += d - n
		}
	}
	return copied, added
}

// Score scales how much of src survives in dst onto [0, maxScore], using
// the larger of the two sizes as the denominator. Two empty buffers are
// identical.
func Score(src, dst []byte, maxScore int) int {
	size := len(src)
	if len(dst) > size {
		size = len(dst)
	}
	if size == 0 {
		return maxScore
	}
	copied, _ := Estimate(src, dst)
	return int(int64(copied) * int64(maxScore) / int64(size))
}
