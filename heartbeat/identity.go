package heartbeat

import "time"

// Identity is the agent description served by /heartbeat.
// Values are never mutated after construction; reconfiguring replaces the
// whole Identity.
type Identity struct {
	AgentID      string
	Name         string
	Capabilities []string
	StartTime    time.Time
	Status       string
}

// NewIdentity builds an Identity. Name defaults to agentID and capabilities
// are copied so later changes by the caller are not observed.
func NewIdentity(agentID, name string, capabilities []string, startTime time.Time) Identity {
	if name == "" {
		name = agentID
	}
	caps := make([]string, len(capabilities))
	copy(caps, capabilities)
	return Identity{
		AgentID:      agentID,
		Name:         name,
		Capabilities: caps,
		StartTime:    startTime,
		Status:       StatusRunning,
	}
}

// clone returns a deep copy safe to hand to callers.
func (id Identity) clone() Identity {
	id.Capabilities = append([]string{}, id.Capabilities...)
	return id
}

// epochSeconds converts t to fractional Unix seconds.
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
