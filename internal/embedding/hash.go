package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashModel is an offline, deterministic bag-of-words model: every token
// is hashed onto one axis with a hashed sign, and the sum is L2-normalised.
// Texts sharing words land close together, which is enough for local runs
// and tests without a model server.
type HashModel struct {
	dim int
}

var _ Model = HashModel{}

// NewHashModel returns a model producing vectors of length dim.
func NewHashModel(dim int) HashModel {
	return HashModel{dim: dim}
}

// Embed returns one vector per text. Text without tokens maps to the
// first axis so no vector is all zeros.
func (h HashModel) Embed(ctx context.Context, _ Task, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h HashModel) vector(text string) []float32 {
	vec := make([]float32, h.dim)
	if h.dim == 0 {
		return vec
	}

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		f := fnv.New64a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum64()
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		vec[sum%uint64(h.dim)] += sign
	}

	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// Close is a no-op.
func (HashModel) Close() error { return nil }
