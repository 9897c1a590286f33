package mesh

// TopologyMode selects how the local node structures its links as the peer
// count grows.
type TopologyMode string

const (
	// ModeAuto switches to hub-spoke once the peer count exceeds the
	// configured threshold.
	ModeAuto TopologyMode = "auto"
	// ModeFullMesh keeps direct links to every peer regardless of count.
	ModeFullMesh TopologyMode = "full-mesh"
	// ModeHubSpoke always routes through hub nodes.
	ModeHubSpoke TopologyMode = "hub-spoke"
)

// LatencyClass buckets the expected message latency for a topology.
type LatencyClass string

const (
	LatencyLow    LatencyClass = "low"
	LatencyMedium LatencyClass = "medium"
	LatencyHigh   LatencyClass = "high"
)

// ImpactClass buckets the local resource cost of maintaining a topology.
type ImpactClass string

const (
	ImpactLight    ImpactClass = "light"
	ImpactModerate ImpactClass = "moderate"
	ImpactHeavy    ImpactClass = "heavy"
)

// Bucket boundaries over the selected connection count. Tunable; the only
// contract is that the classes stay monotonic in connection count.
const (
	latencyLowMax     = 10
	latencyMediumMax  = 45
	impactLightMax    = 10
	impactModerateMax = 30
)

// TopologyDecision is the derived recommendation for the current peer
// count. It is never cached; recompute whenever peer count or configuration
// changes.
type TopologyDecision struct {
	UsesHubSpoke    bool
	ConnectionCount int
	Latency         LatencyClass
	ResourceImpact  ImpactClass
}

// FullMeshConnections is the total link count of an all-to-all mesh of
// peerCount nodes.
func FullMeshConnections(peerCount int) int {
	if peerCount < 2 {
		return 0
	}
	return peerCount * (peerCount - 1) / 2
}

// HubSpokeConnections is the link count when every peer connects to a hub.
func HubSpokeConnections(peerCount int) int {
	if peerCount < 0 {
		return 0
	}
	return peerCount
}

// DecideTopology computes the topology recommendation for peerCount peers
// under the given mode and auto-mode threshold. Pure function.
func DecideTopology(mode TopologyMode, peerCount, thresholdPeerCount int) TopologyDecision {
	var hubSpoke bool
	switch mode {
	case ModeFullMesh:
		hubSpoke = false
	case ModeHubSpoke:
		hubSpoke = true
	default:
		hubSpoke = peerCount > thresholdPeerCount
	}

	count := FullMeshConnections(peerCount)
	if hubSpoke {
		count = HubSpokeConnections(peerCount)
	}

	return TopologyDecision{
		UsesHubSpoke:    hubSpoke,
		ConnectionCount: count,
		Latency:         latencyFor(count),
		ResourceImpact:  impactFor(count),
	}
}

func latencyFor(connections int) LatencyClass {
	switch {
	case connections <= latencyLowMax:
		return LatencyLow
	case connections <= latencyMediumMax:
		return LatencyMedium
	default:
		return LatencyHigh
	}
}

func impactFor(connections int) ImpactClass {
	switch {
	case connections <= impactLightMax:
		return ImpactLight
	case connections <= impactModerateMax:
		return ImpactModerate
	default:
		return ImpactHeavy
	}
}
