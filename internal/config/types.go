// Package config loads and validates the agent's layered configuration:
// an optional YAML file overridden by SAIMIRIS__-prefixed environment
// variables, using koanf the way a layered-override configuration is
// idiomatically built in Go.
package config

import "fmt"

// AgentConfig identifies this agent and where it serves metrics.
type AgentConfig struct {
	ID             string `koanf:"id"`
	MetricsAddress string `koanf:"metrics_address"`
}

func (c AgentConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("agent.id is required")
	}
	if c.MetricsAddress == "" {
		return fmt.Errorf("agent.metrics_address is required")
	}
	return nil
}

// GatewayConfig is optional: when Url is empty the gateway client is
// not started.
type GatewayConfig struct {
	URL          string `koanf:"url"`
	AgentKey     string `koanf:"agent_key"`
	AgentSecret  string `koanf:"agent_secret"`
}

func (c GatewayConfig) Enabled() bool { return c.URL != "" }

// CaracatConfig is one probing instance's parameters. The name mirrors
// the distilled source's own instance-config vocabulary.
type CaracatConfig struct {
	Name                string `koanf:"name"`
	InstanceID          uint16 `koanf:"instance_id"`
	Interface           string `koanf:"interface"`
	SrcIPv4Prefix       string `koanf:"src_ipv4_prefix"`
	SrcIPv6Prefix       string `koanf:"src_ipv6_prefix"`
	BatchSize           uint64 `koanf:"batch_size"`
	ProbingRate         uint64 `koanf:"probing_rate"`
	Packets             uint64 `koanf:"packets"`
	MinTTL              *uint8 `koanf:"min_ttl"`
	MaxTTL              *uint8 `koanf:"max_ttl"`
	IntegrityCheck      bool   `koanf:"integrity_check"`
	DryRun              bool   `koanf:"dry_run"`
	RateLimitingMethod  string `koanf:"rate_limiting_method"`
}

func (c *CaracatConfig) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Packets == 0 {
		c.Packets = defaultPackets
	}
	if c.ProbingRate == 0 {
		c.ProbingRate = defaultProbingRate
	}
	if c.RateLimitingMethod == "" {
		c.RateLimitingMethod = defaultRateLimitingMethod
	}
}

func (c CaracatConfig) Validate() error {
	if c.Interface == "" {
		return fmt.Errorf("caracat[%d].interface is required", c.InstanceID)
	}
	switch c.RateLimitingMethod {
	case "auto", "active", "sleep", "none":
	default:
		return fmt.Errorf("caracat[%d].rate_limiting_method %q is invalid", c.InstanceID, c.RateLimitingMethod)
	}
	if c.MinTTL != nil && c.MaxTTL != nil && *c.MinTTL > *c.MaxTTL {
		return fmt.Errorf("caracat[%d]: min_ttl > max_ttl", c.InstanceID)
	}
	return nil
}

// HasPrefixes reports whether this instance is bound to a source
// prefix, as opposed to being the default instance.
func (c CaracatConfig) HasPrefixes() bool {
	return c.SrcIPv4Prefix != "" || c.SrcIPv6Prefix != ""
}

// AuthProtocol identifies the Kafka authentication scheme.
type AuthProtocol string

const (
	AuthProtocolPlaintext     AuthProtocol = "PLAINTEXT"
	AuthProtocolSASLPlaintext AuthProtocol = "SASL_PLAINTEXT"
)

// KafkaConfig describes the inbound probe stream and outbound reply
// stream.
type KafkaConfig struct {
	Brokers               string       `koanf:"brokers"`
	AuthProtocol          AuthProtocol `koanf:"auth_protocol"`
	AuthSASLUsername      string       `koanf:"auth_sasl_username"`
	AuthSASLPassword      string       `koanf:"auth_sasl_password"`
	AuthSASLMechanism     string       `koanf:"auth_sasl_mechanism"`
	MessageMaxBytes       int          `koanf:"message_max_bytes"`
	InTopics              string       `koanf:"in_topics"`
	InGroupID             string       `koanf:"in_group_id"`
	OutEnable             bool         `koanf:"out_enable"`
	OutTopic              string       `koanf:"out_topic"`
	OutBatchWaitTimeMS    uint64       `koanf:"out_batch_wait_time"`
	OutBatchWaitIntervalMS uint64      `koanf:"out_batch_wait_interval"`
}

func (c *KafkaConfig) applyDefaults() {
	if c.Brokers == "" {
		c.Brokers = defaultKafkaBrokers
	}
	if c.AuthProtocol == "" {
		c.AuthProtocol = AuthProtocolPlaintext
	}
	if c.AuthSASLMechanism == "" {
		c.AuthSASLMechanism = defaultKafkaSASLMechanism
	}
	if c.MessageMaxBytes == 0 {
		c.MessageMaxBytes = defaultMessageMaxBytes
	}
	if c.InTopics == "" {
		c.InTopics = defaultInTopics
	}
	if c.InGroupID == "" {
		c.InGroupID = defaultInGroupID
	}
	if c.OutTopic == "" {
		c.OutTopic = defaultOutTopic
	}
	if c.OutBatchWaitTimeMS == 0 {
		c.OutBatchWaitTimeMS = defaultOutBatchWaitTimeMS
	}
	if c.OutBatchWaitIntervalMS == 0 {
		c.OutBatchWaitIntervalMS = defaultOutBatchWaitIntervalMS
	}
}

func (c KafkaConfig) Validate() error {
	switch c.AuthProtocol {
	case AuthProtocolPlaintext, AuthProtocolSASLPlaintext:
	default:
		return fmt.Errorf("kafka.auth_protocol %q is invalid", c.AuthProtocol)
	}
	if c.Brokers == "" {
		return fmt.Errorf("kafka.brokers is required")
	}
	return nil
}

// Config is the fully-resolved agent configuration.
type Config struct {
	Agent   AgentConfig     `koanf:"agent"`
	Gateway GatewayConfig   `koanf:"gateway"`
	Caracat []CaracatConfig `koanf:"caracat"`
	Kafka   KafkaConfig     `koanf:"kafka"`
}

// Validate checks every section and returns the first configuration-fatal
// error encountered, per the agent's "refuse to start" error class.
func (c *Config) Validate() error {
	if err := c.Agent.Validate(); err != nil {
		return err
	}
	if len(c.Caracat) == 0 {
		return fmt.Errorf("at least one caracat instance is required")
	}
	seen := make(map[uint16]bool, len(c.Caracat))
	for i := range c.Caracat {
		inst := &c.Caracat[i]
		if seen[inst.InstanceID] {
			return fmt.Errorf("caracat[%d]: duplicate instance_id %d", i, inst.InstanceID)
		}
		seen[inst.InstanceID] = true
		if err := inst.Validate(); err != nil {
			return err
		}
	}
	if err := c.Kafka.Validate(); err != nil {
		return err
	}
	return nil
}

// applyDefaults fills in zero-valued fields with the defaults named in
// the configuration spec.
func (c *Config) applyDefaults() {
	for i := range c.Caracat {
		c.Caracat[i].applyDefaults()
	}
	c.Kafka.applyDefaults()
}
