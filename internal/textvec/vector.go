package textvec

import "math"

// Vector is a sparse term-weight vector.
type Vector map[string]float64

// TermFrequency counts tokens of text and boosts domain keywords.
func TermFrequency(text string) Vector {
	v := make(Vector)
	for _, tok := range Tokenize(text) {
		v[tok]++
	}
	for tok, n := range v {
		if IsDomainKeyword(tok) {
			v[tok] = n * KeywordBoost
		}
	}
	return v
}

// Norm returns the L2 norm of v.
func (v Vector) Norm() float64 {
	var sum float64
	for _, w := range v {
		sum += w * w
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of a and b. Term weights are
// non-negative, so the result lies in [0,1]; empty vectors score 0.
func Cosine(a, b Vector) float64 {
	return CosineWithNorms(a, a.Norm(), b, b.Norm())
}

// CosineWithNorms is Cosine with both norms precomputed, for scoring one
// query against many stored documents.
func CosineWithNorms(a Vector, aNorm float64, b Vector, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for tok, wa := range a {
		dot += wa * b[tok]
	}
	sim := dot / (aNorm * bNorm)
	if sim > 1 {
		sim = 1
	}
	return sim
}
