package ml

import "math"

// Quantize rounds x to two decimal places as math.Round(x*100)/100. Ties
// are broken away from zero on the binary product x*100, so a decimal half
// that is not exactly representable (0.145 is stored as 0.14499...) rounds
// toward zero while an exact one (0.125) rounds away.
func Quantize(x float64) float64 {
	q := math.Round(x*100) / 100
	if q == 0 {
		return 0 // normalize -0
	}
	return q
}

// Softmax normalizes logits into probabilities. The maximum logit is
// subtracted before exponentiating.
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(l - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Argmax returns the index of the largest value; ties go to the lowest index.
// It returns -1 for an empty slice.
func Argmax(values []float64) int {
	if len(values) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

// dense computes W·x + b
func dense(weights [][]float64, biases []float64, x []float64) []float64 {
	out := make([]float64, len(weights))
	for i, row := range weights {
		acc := biases[i]
		for j, w := range row {
			acc += w * x[j]
		}
		out[i] = acc
	}
	return out
}
