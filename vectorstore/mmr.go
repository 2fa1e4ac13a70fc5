package vectorstore

import "math"

// MaximalMarginalRelevance returns the indexes of up to k vectors, picking the vector most
// similar to the query first, then repeatedly the vector that best trades similarity to
// the query against similarity to those already picked.
func MaximalMarginalRelevance(query []float32, vectors [][]float32, k int, lambda float64) []int {
	k = min(k, len(vectors))
	if k <= 0 {
		return nil
	}
	toQuery := make([]float64, len(vectors))
	best := 0
	for i, v := range vectors {
		toQuery[i] = cosine(query, v)
		if toQuery[i] > toQuery[best] {
			best = i
		}
	}
	selected := []int{best}
	picked := make([]bool, len(vectors))
	picked[best] = true
	// redundancy[i] is the highest similarity of vector i to any selected vector.
	redundancy := make([]float64, len(vectors))
	for i := range redundancy {
		redundancy[i] = math.Inf(-1)
	}
	for len(selected) < k {
		last := vectors[selected[len(selected)-1]]
		next, nextScore := -1, math.Inf(-1)
		for i, v := range vectors {
			if picked[i] {
				continue
			}
			redundancy[i] = math.Max(redundancy[i], cosine(v, last))
			score := lambda*toQuery[i] - (1-lambda)*redundancy[i]
			if score > nextScore {
				next, nextScore = i, score
			}
		}
		if next < 0 {
			break
		}
		selected = append(selected, next)
		picked[next] = true
	}
	return selected
}

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
