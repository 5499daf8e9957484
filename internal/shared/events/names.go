package events

// Event names on the bus. Stage handlers subscribe by these.
const (
	EventBriefFinalized   = "node_a.brief_finalized"
	EventNodeBInput       = "node_b.input"
	EventDirectiveEmitted = "node_b.directive_emitted"
	EventDiscoveryNeeded  = "node_c.discovery_needed"
	EventNodeCInput       = "node_c.input"
	EventNodeDInput       = "node_d.input"
	EventNodeEInput       = "node_e.input"
	EventNodeFInput       = "node_f.input"
	EventNodeGInput       = "node_g.input"
)
