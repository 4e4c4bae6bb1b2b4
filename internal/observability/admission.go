package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AdmissionMetrics counts admission decisions, brute-force blocks and
// fail-open events.
type AdmissionMetrics struct {
	decisions metric.Int64Counter
	blocks    metric.Int64Counter
	degraded  metric.Int64Counter
}

func NewAdmissionMetrics() (*AdmissionMetrics, error) {
	meter := otel.Meter("gatekeeper/admission")

	decisions, err := meter.Int64Counter(
		"admission.decisions",
		metric.WithDescription("Admission decisions by rate-limit profile and outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	blocks, err := meter.Int64Counter(
		"admission.blocks",
		metric.WithDescription("Requests rejected by an active brute-force block, by block type"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	degraded, err := meter.Int64Counter(
		"admission.degraded",
		metric.WithDescription("Requests admitted because a limiter or guard store was unavailable"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &AdmissionMetrics{decisions: decisions, blocks: blocks, degraded: degraded}, nil
}

// Decision counts one limiter outcome for profile.
func (m *AdmissionMetrics) Decision(ctx context.Context, profile, outcome string) {
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", profile),
		attribute.String("outcome", outcome),
	))
}

// Block counts one request rejected by a brute-force block.
func (m *AdmissionMetrics) Block(ctx context.Context, blockType string) {
	m.blocks.Add(ctx, 1, metric.WithAttributes(attribute.String("block_type", blockType)))
}

// Degraded counts one fail-open admission. component is ratelimit or
// bruteforce.
func (m *AdmissionMetrics) Degraded(ctx context.Context, component string) {
	m.degraded.Add(ctx, 1, metric.WithAttributes(attribute.String("component", component)))
}
