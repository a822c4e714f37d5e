package models

import (
	"testing"
	"time"
)

func TestRateWindowRemaining(t *testing.T) {
	tests := []struct {
		name   string
		window *RateWindow
		want   float64
	}{
		{"nil window", nil, 0},
		{"half used", &RateWindow{UsedPercent: 42.5}, 57.5},
		{"fully used", &RateWindow{UsedPercent: 100}, 0},
		{"over limit clamps to zero", &RateWindow{UsedPercent: 130}, 0},
		{"negative usage clamps to full", &RateWindow{UsedPercent: -5}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.window.Remaining(); got != tt.want {
				t.Errorf("Remaining() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUsageSnapshotOK(t *testing.T) {
	if (&UsageSnapshot{ProviderID: "claude"}).OK() != true {
		t.Error("plain snapshot should be OK")
	}
	if ErrorSnapshot("claude", "boom").OK() {
		t.Error("error snapshot should not be OK")
	}
	if LoadingSnapshot("claude").OK() {
		t.Error("loading snapshot should not be OK")
	}
	var nilSnap *UsageSnapshot
	if nilSnap.OK() {
		t.Error("nil snapshot should not be OK")
	}
}

func TestUsageSnapshotWithCostLeavesReceiverUntouched(t *testing.T) {
	base := &UsageSnapshot{ProviderID: "claude", FetchedAt: time.Now()}
	enriched := base.WithCost(CostInfo{TodayUSD: 1.25})

	if base.Cost != nil {
		t.Error("WithCost mutated the receiver")
	}
	if enriched.Cost == nil || enriched.Cost.TodayUSD != 1.25 {
		t.Errorf("enriched cost = %+v, want TodayUSD 1.25", enriched.Cost)
	}
}
