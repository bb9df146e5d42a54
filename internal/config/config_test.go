package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig_Validate_RequiresAgentID(t *testing.T) {
	r := require.New(t)
	cfg := &Config{
		Agent:   AgentConfig{MetricsAddress: "127.0.0.1:9000"},
		Caracat: []CaracatConfig{{InstanceID: 1, Interface: "eth0", RateLimitingMethod: "auto"}},
		Kafka:   KafkaConfig{Brokers: "localhost:9092", AuthProtocol: AuthProtocolPlaintext},
	}
	r.Error(cfg.Validate())
}

func TestConfig_Validate_RequiresAtLeastOneInstance(t *testing.T) {
	r := require.New(t)
	cfg := &Config{
		Agent: AgentConfig{ID: "a1", MetricsAddress: "127.0.0.1:9000"},
		Kafka: KafkaConfig{Brokers: "localhost:9092", AuthProtocol: AuthProtocolPlaintext},
	}
	r.ErrorContains(cfg.Validate(), "at least one caracat instance")
}

func TestConfig_Validate_RejectsDuplicateInstanceIDs(t *testing.T) {
	r := require.New(t)
	cfg := &Config{
		Agent: AgentConfig{ID: "a1", MetricsAddress: "127.0.0.1:9000"},
		Caracat: []CaracatConfig{
			{InstanceID: 1, Interface: "eth0", RateLimitingMethod: "auto"},
			{InstanceID: 1, Interface: "eth1", RateLimitingMethod: "auto"},
		},
		Kafka: KafkaConfig{Brokers: "localhost:9092", AuthProtocol: AuthProtocolPlaintext},
	}
	r.ErrorContains(cfg.Validate(), "duplicate instance_id")
}

func TestConfig_Validate_RejectsBadAuthProtocol(t *testing.T) {
	r := require.New(t)
	k := KafkaConfig{Brokers: "localhost:9092", AuthProtocol: "BOGUS"}
	r.Error(k.Validate())
}

func TestCaracatConfig_ApplyDefaults(t *testing.T) {
	r := require.New(t)
	c := CaracatConfig{InstanceID: 7, Interface: "eth0"}
	c.applyDefaults()
	r.EqualValues(defaultBatchSize, c.BatchSize)
	r.EqualValues(defaultPackets, c.Packets)
	r.EqualValues(defaultProbingRate, c.ProbingRate)
	r.Equal(defaultRateLimitingMethod, c.RateLimitingMethod)
}

func TestCaracatConfig_HasPrefixes(t *testing.T) {
	r := require.New(t)
	r.False(CaracatConfig{}.HasPrefixes())
	r.True(CaracatConfig{SrcIPv4Prefix: "192.168.1.0/24"}.HasPrefixes())
	r.True(CaracatConfig{SrcIPv6Prefix: "2001:db8::/32"}.HasPrefixes())
}

func TestCaracatConfig_Validate_RejectsInvertedTTLRange(t *testing.T) {
	r := require.New(t)
	lo, hi := uint8(10), uint8(4)
	c := CaracatConfig{Interface: "eth0", RateLimitingMethod: "auto", MinTTL: &lo, MaxTTL: &hi}
	r.ErrorContains(c.Validate(), "min_ttl > max_ttl")
}

func TestLoad_FileOverriddenByEnv(t *testing.T) {
	r := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "saimiris.yaml")
	yamlBody := `
agent:
  id: a1
  metrics_address: 127.0.0.1:9100
caracat:
  - instance_id: 1
    interface: eth0
kafka:
  brokers: localhost:9092
`
	r.NoError(os.WriteFile(path, []byte(yamlBody), 0o600))

	t.Setenv("SAIMIRIS__AGENT__METRICS_ADDRESS", "0.0.0.0:9200")
	t.Setenv("SAIMIRIS__KAFKA__IN_TOPICS", "custom-probes")

	cfg, err := Load(path)
	r.NoError(err)
	r.Equal("a1", cfg.Agent.ID)
	r.Equal("0.0.0.0:9200", cfg.Agent.MetricsAddress, "env override should win over file value")
	r.Equal("custom-probes", cfg.Kafka.InTopics)
	r.EqualValues(defaultMessageMaxBytes, cfg.Kafka.MessageMaxBytes)
}
