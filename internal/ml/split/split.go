package split

import (
	"crypto/sha256"
	"encoding/binary"
)

// Partition is a dataset slice assignment derived purely from the record id.
// The same id lands in the same partition forever, across runs and machines,
// with no RNG and no stored assignment table.
type Partition string

const (
	Train Partition = "train"
	Val   Partition = "val"
	Test  Partition = "test"
)

// Ten buckets: 0..7 train, 8 val, 9 test (80/10/10).
const (
	numBuckets  = 10
	trainCutoff = 7
	valBucket   = 8
)

// Key hashes the record id into its bucket. The first 8 bytes of the SHA-256
// digest are read big-endian; the id is hashed as-is, no normalization.
func Key(recordID string) int {
	sum := sha256.Sum256([]byte(recordID))
	return int(binary.BigEndian.Uint64(sum[:8]) % numBuckets)
}

func Assign(recordID string) Partition {
	k := Key(recordID)
	switch {
	case k <= trainCutoff:
		return Train
	case k == valBucket:
		return Val
	default:
		return Test
	}
}

// Counts tallies partition sizes for a batch of record ids.
func Counts(recordIDs []string) map[Partition]int {
	out := map[Partition]int{Train: 0, Val: 0, Test: 0}
	for _, id := range recordIDs {
		out[Assign(id)]++
	}
	return out
}
