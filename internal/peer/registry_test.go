package peer

import (
	"fmt"
	"testing"
	"time"
)

func TestRegistryRecentAndZero(t *testing.T) {
	r := NewRegistry()
	r.Add("https://a.example")
	r.Add("https://b.example")

	now := time.Now()
	r.Touch("https://a.example", now)

	recent := r.Recent(now)
	if len(recent) != 1 || recent[0] != "https://a.example" {
		t.Fatalf("expected only a.example to be recent, got %v", recent)
	}

	zero := r.Zero()
	if len(zero) != 1 || zero[0] != "https://b.example" {
		t.Fatalf("expected only b.example to be zero, got %v", zero)
	}
}

func TestRegistryPruneRemovesStaleNodes(t *testing.T) {
	r := NewRegistry()
	r.Add("https://stale.example")
	old := time.Now().Add(-91 * 24 * time.Hour)
	r.Touch("https://stale.example", old)

	r.Prune(time.Now())

	if len(r.All()) != 0 {
		t.Fatalf("expected stale node pruned, got %v", r.All())
	}
}

func TestRegistryAddRespectsCap(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < MaxNodes; i++ {
		if !r.Add(urlFor(i)) {
			t.Fatalf("expected Add to succeed under cap at i=%d", i)
		}
	}
	if r.Add(urlFor(MaxNodes)) {
		t.Fatalf("expected Add to fail once at MaxNodes")
	}
}

func urlFor(i int) string {
	return fmt.Sprintf("https://node-%d.example", i)
}
