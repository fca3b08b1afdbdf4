package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAverageLinkageTwoGroups(t *testing.T) {
	// Indices 0,1 are close, 2,3 are close, the groups are far apart.
	dist := [][]float64{
		{0.0, 0.1, 0.9, 0.9},
		{0.1, 0.0, 0.9, 0.9},
		{0.9, 0.9, 0.0, 0.2},
		{0.9, 0.9, 0.2, 0.0},
	}
	labels := averageLinkage(dist, 0.5)
	assert.Equal(t, []int64{0, 0, 1, 1}, labels)
}

func TestAverageLinkageNoMerges(t *testing.T) {
	dist := [][]float64{
		{0.0, 0.6, 0.7},
		{0.6, 0.0, 0.8},
		{0.7, 0.8, 0.0},
	}
	labels := averageLinkage(dist, 0.5)
	assert.Equal(t, []int64{0, 1, 2}, labels)
}

func TestAverageLinkageUsesAverageDistance(t *testing.T) {
	// 0 and 1 merge first (0.2). The merged pair sits at the average of
	// 0.4 and 0.9 from index 2, which decides whether 2 joins.
	dist := [][]float64{
		{0.0, 0.2, 0.9},
		{0.2, 0.0, 0.4},
		{0.9, 0.4, 0.0},
	}

	labels := averageLinkage(dist, 0.7)
	assert.Equal(t, []int64{0, 0, 0}, labels, "average distance 0.65 is under cutoff 0.7")

	labels = averageLinkage(dist, 0.5)
	assert.Equal(t, []int64{0, 0, 1}, labels, "average distance 0.65 is over cutoff 0.5")
}

func TestAverageLinkageCutoffExclusive(t *testing.T) {
	dist := [][]float64{
		{0.0, 0.5},
		{0.5, 0.0},
	}
	labels := averageLinkage(dist, 0.5)
	assert.Equal(t, []int64{0, 1}, labels, "distance equal to cutoff must not merge")
}

func TestAverageLinkageEmpty(t *testing.T) {
	assert.Nil(t, averageLinkage(nil, 0.5))
}

func TestAverageLinkageSingle(t *testing.T) {
	labels := averageLinkage([][]float64{{0}}, 0.5)
	assert.Equal(t, []int64{0}, labels)
}
