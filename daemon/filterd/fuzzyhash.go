package filterd

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// fuzzyHashSize is the number of leading bytes of the digest kept as a message's fuzzy hash - short enough to sit
// comfortably in a LogLine's "part:" field, per spec section 4.4's log line format.
const fuzzyHashSize = 8

// computeFuzzyHash returns a short, stable fingerprint for a text part, the way the Scan Pipeline populates
// Task.FuzzyHashes (spec section 6). It is not a locality-sensitive fuzzy hash in the original sense (no shingling,
// no near-duplicate matching) - a ScanPipeline wanting that property substitutes its own algorithm - but it gives
// NoopPipeline and tests a real, deterministic per-part digest instead of a placeholder string.
func computeFuzzyHash(part []byte) string {
	sum := blake2b.Sum256(part)
	return hex.EncodeToString(sum[:fuzzyHashSize])
}
