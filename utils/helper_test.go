package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceMeters(t *testing.T) {
	assert.Zero(t, DistanceMeters(41.3, 69.2, 41.3, 69.2))
	// one thousandth of a degree of latitude is about 111 meters
	assert.InDelta(t, 111.19, DistanceMeters(41.0, 69.0, 41.001, 69.0), 0.05)
}

func TestUniqueSlice_KeepsFirstOccurrenceOrder(t *testing.T) {
	assert.Equal(t, []int{2, 1, 3}, UniqueSlice([]int{2, 1, 2, 3, 1}))
}

func TestTrimmedLength_CountsRunes(t *testing.T) {
	assert.Equal(t, 5, TrimmedLength("  hello \n"))
	assert.Equal(t, 3, TrimmedLength("Ўзб"))
}
