package vector

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// CosineDistance returns 1 - cos(a, b). Vectors of different length or with
// zero norm are maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	na := math.Sqrt(float64(vek32.Dot(a, a)))
	nb := math.Sqrt(float64(vek32.Dot(b, b)))
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - float64(vek32.Dot(a, b))/(na*nb)
}
