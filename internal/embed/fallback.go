package embed

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// FallbackDimension is the vector length of the local hashing embedder
// when no vendor dictates a dimension.
const FallbackDimension = 384

// FallbackVector produces a deterministic embedding without any network
// dependency. The text is lowercased and tokenized, each token is hashed
// into one of dim buckets, and earlier tokens weigh more than later ones
// so word order influences the vector. The result is L2-normalized unless
// it is the zero vector.
//
// These vectors are not semantically meaningful. They keep ingestion and
// keyword-leaning retrieval working when every vendor is unreachable.
func FallbackVector(text string, dim int) []float32 {
	if dim <= 0 {
		dim = FallbackDimension
	}
	vec := make([]float32, dim)

	for i, tok := range tokenize(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		bucket := int(h.Sum32() % uint32(dim))
		vec[bucket] += float32(1.0 / float64(i+1))
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := 1 / math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) * inv)
		}
	}
	return vec
}

// tokenize splits text on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
