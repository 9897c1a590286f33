package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecideTopologyAuto(t *testing.T) {
	d := DecideTopology(ModeAuto, 5, 10)
	assert.False(t, d.UsesHubSpoke)
	assert.Equal(t, 10, d.ConnectionCount) // 5*4/2

	d = DecideTopology(ModeAuto, 15, 10)
	assert.True(t, d.UsesHubSpoke)
	assert.Equal(t, 15, d.ConnectionCount)

	// At the threshold, stay full mesh.
	d = DecideTopology(ModeAuto, 10, 10)
	assert.False(t, d.UsesHubSpoke)
	assert.Equal(t, 45, d.ConnectionCount)
}

func TestDecideTopologyForcedModes(t *testing.T) {
	d := DecideTopology(ModeFullMesh, 50, 10)
	assert.False(t, d.UsesHubSpoke)
	assert.Equal(t, 50*49/2, d.ConnectionCount)

	d = DecideTopology(ModeHubSpoke, 3, 10)
	assert.True(t, d.UsesHubSpoke)
	assert.Equal(t, 3, d.ConnectionCount)
}

func TestDecideTopologySmallCounts(t *testing.T) {
	assert.Equal(t, 0, DecideTopology(ModeFullMesh, 0, 10).ConnectionCount)
	assert.Equal(t, 0, DecideTopology(ModeFullMesh, 1, 10).ConnectionCount)
	assert.Equal(t, 1, DecideTopology(ModeFullMesh, 2, 10).ConnectionCount)
}

func TestCostClassesMonotonic(t *testing.T) {
	rankL := map[LatencyClass]int{LatencyLow: 0, LatencyMedium: 1, LatencyHigh: 2}
	rankI := map[ImpactClass]int{ImpactLight: 0, ImpactModerate: 1, ImpactHeavy: 2}

	prevL, prevI := 0, 0
	for peers := 0; peers <= 40; peers++ {
		d := DecideTopology(ModeFullMesh, peers, 10)
		l, i := rankL[d.Latency], rankI[d.ResourceImpact]
		assert.GreaterOrEqual(t, l, prevL, "latency class regressed at %d peers", peers)
		assert.GreaterOrEqual(t, i, prevI, "impact class regressed at %d peers", peers)
		prevL, prevI = l, i
	}
}
