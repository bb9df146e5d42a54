package gateway

// AgentInfo is the gateway's view of this agent, returned by GET /agent/{id}.
type AgentInfo struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// RegisterRequest registers a new agent with the gateway.
type RegisterRequest struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// InstanceConfigPayload is the sanitized subset of a caracat instance's
// configuration reported to the gateway: interface, prefixes, rates,
// TTL bounds and rate-limiting method, with no credentials.
type InstanceConfigPayload struct {
	InstanceID         uint16 `json:"instance_id"`
	Interface          string `json:"interface"`
	SrcIPv4Prefix      string `json:"src_ipv4_prefix,omitempty"`
	SrcIPv6Prefix      string `json:"src_ipv6_prefix,omitempty"`
	ProbingRate        uint64 `json:"probing_rate"`
	BatchSize          uint64 `json:"batch_size"`
	Packets            uint64 `json:"packets"`
	MinTTL             *uint8 `json:"min_ttl,omitempty"`
	MaxTTL             *uint8 `json:"max_ttl,omitempty"`
	RateLimitingMethod string `json:"rate_limiting_method"`
}

// ConfigRequest reports an agent's running instance configurations.
type ConfigRequest struct {
	Instances []InstanceConfigPayload `json:"instances"`
}

// HealthRequest reports liveness to the gateway.
type HealthRequest struct {
	Healthy   bool    `json:"healthy"`
	LastCheck string  `json:"last_check"`
	Message   *string `json:"message"`
}

// MeasurementStatusRequest reports a measurement's progress from one
// send loop.
type MeasurementStatusRequest struct {
	SentProbes uint64 `json:"sent_probes"`
	IsComplete bool   `json:"is_complete"`
}
