package ffd

import "math"

// binomial returns C(n, k) as a float.
func binomial(n, k int) float64 {
	if k < 0 || k > n {
		return 0
	}
	if k > n-k {
		k = n - k
	}
	r := 1.0
	for d := 1; d <= k; d++ {
		r *= float64(n-k+d) / float64(d)
	}
	return r
}

// Bernstein evaluates the n Bernstein basis polynomials of degree n-1 at t.
// t is not clamped; values outside [0,1] extrapolate. n == 1 yields [1].
func Bernstein(n int, t float64) []float64 {
	b := make([]float64, n)
	bernsteinInto(b, t)
	return b
}

func bernsteinInto(b []float64, t float64) {
	deg := len(b) - 1
	for i := range b {
		b[i] = binomial(deg, i) * math.Pow(1-t, float64(deg-i)) * math.Pow(t, float64(i))
	}
}
