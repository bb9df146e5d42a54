package clientcli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/malbeclabs/saimiris/internal/probe"
)

// Publisher sends one message to the inbound stream, addressed to
// agentID via its routing header. internal/bus.ProbePublisher
// satisfies this.
type Publisher interface {
	Publish(ctx context.Context, agentID, headerJSON string, payload []byte) error
}

type routingMetadata struct {
	SrcIP            string `json:"src_ip,omitempty"`
	MeasurementID    string `json:"measurement_id,omitempty"`
	EndOfMeasurement bool   `json:"end_of_measurement,omitempty"`
}

// Publish sends probes to every target agent, one message per agent
// tagged with that agent's src_ip (so its dispatcher routes the batch
// to the instance bound to that prefix), followed by a second,
// empty-payload end_of_measurement message so the agent's send loop
// can report final progress.
func Publish(ctx context.Context, pub Publisher, agents []ClientAgent, probes []probe.Probe, measurementID string) error {
	payload := probe.EncodeProbes(probes)

	for _, agent := range agents {
		meta := routingMetadata{SrcIP: agent.Addr.String(), MeasurementID: measurementID}
		header, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("clientcli: marshal routing metadata for %s: %w", agent.Name, err)
		}
		if err := pub.Publish(ctx, agent.Name, string(header), payload); err != nil {
			return fmt.Errorf("clientcli: publish probes to %s: %w", agent.Name, err)
		}
	}

	for _, agent := range agents {
		meta := routingMetadata{SrcIP: agent.Addr.String(), MeasurementID: measurementID, EndOfMeasurement: true}
		header, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("clientcli: marshal end-of-measurement metadata for %s: %w", agent.Name, err)
		}
		if err := pub.Publish(ctx, agent.Name, string(header), nil); err != nil {
			return fmt.Errorf("clientcli: publish end-of-measurement to %s: %w", agent.Name, err)
		}
	}
	return nil
}
