package cache

import (
	"crypto/sha256"
	"encoding/binary"
)

// BucketCount is the number of rollout buckets. Rollout percentages map
// directly onto buckets: percentage P enables buckets [0, P).
const BucketCount = 100

// Bucket deterministically assigns a user to a rollout bucket in [0, 100).
// The same user id always lands in the same bucket, across processes and
// restarts, so a user never flips in and out of a staged rollout.
func Bucket(userID string) int {
	sum := sha256.Sum256([]byte(userID))
	return int(binary.BigEndian.Uint64(sum[:8]) % BucketCount)
}

// InRollout reports whether userID falls inside a rollout of pct percent.
// pct <= 0 disables everyone; pct >= 100 enables everyone.
func InRollout(userID string, pct int) bool {
	if pct <= 0 {
		return false
	}
	if pct >= BucketCount {
		return true
	}
	return Bucket(userID) < pct
}
