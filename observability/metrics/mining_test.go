package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gathered(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not registered", name)
	return nil
}

func labelled(mf *dto.MetricFamily, key, value string) *dto.Metric {
	for _, m := range mf.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == key && l.GetValue() == value {
				return m
			}
		}
	}
	return nil
}

func TestMiningMetricsRecordOutcomes(t *testing.T) {
	m := Mining()
	m.ObserveSubmission("accepted")
	m.ObserveSubmission("accepted")
	m.ObserveSlash("lost_pairing")
	m.ObserveConfirmation(42)

	sub := labelled(gathered(t, "mining_submissions_total"), "outcome", "accepted")
	if sub == nil || sub.GetCounter().GetValue() < 2 {
		t.Fatalf("accepted submissions not counted: %v", sub)
	}
	if slash := labelled(gathered(t, "mining_slashes_total"), "reason", "lost_pairing"); slash == nil {
		t.Fatalf("slash not recorded")
	}
	leaves := gathered(t, "mining_canonical_leaves").GetMetric()
	if len(leaves) != 1 || leaves[0].GetGauge().GetValue() != 42 {
		t.Fatalf("unexpected canonical leaves %v", leaves)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *MiningMetrics
	m.ObserveSubmission("x")
	m.ObservePairing("x", 3)
	m.ObserveConfirmation(1)
}
