package replica_test

import (
	"reflect"
	"testing"

	"github.com/gridfab/courier/pkg/replica"
)

func TestSelectAllDiskSources(t *testing.T) {
	sources := []replica.Source{
		{RequestID: "r1", RSE: "disk1", Ranking: 0, Distance: 20},
		{RequestID: "r1", RSE: "disk2", Ranking: 0, Distance: 10},
		{RequestID: "r1", RSE: "tape1", Ranking: 5, Distance: 5, Tape: true},
	}

	got := replica.Select(sources)
	if len(got) != 2 {
		t.Fatalf("expected 2 sources, got %d: %v", len(got), got)
	}
	for _, s := range got {
		if s.Tape {
			t.Fatalf("tape source selected alongside disk: %v", s)
		}
	}
	// Equal ranking, so the nearer disk comes first.
	if got[0].RSE != "disk2" || got[1].RSE != "disk1" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestSelectDiskOrdering(t *testing.T) {
	sources := []replica.Source{
		{RSE: "disk1", Ranking: 1, Distance: 50},
		{RSE: "disk2", Ranking: 3, Distance: 40},
		{RSE: "disk3", Ranking: 3, Distance: 10},
		{RSE: "disk4", Ranking: 2, Distance: 5},
	}

	got := replica.Select(sources)
	expected := []string{"disk3", "disk2", "disk4", "disk1"}

	var order []string
	for _, s := range got {
		order = append(order, s.RSE)
	}
	if !reflect.DeepEqual(order, expected) {
		t.Fatalf("expected %v, got %v", expected, order)
	}
}

func TestSelectSingleTape(t *testing.T) {
	// The disks have been ranked out of rotation, leaving only tape.
	sources := []replica.Source{
		{RSE: "disk1", Ranking: -1, Distance: 10},
		{RSE: "disk2", Ranking: -2, Distance: 10},
		{RSE: "tape1", Ranking: 0, Distance: 10, Tape: true},
		{RSE: "tape2", Ranking: 1, Distance: 20, Tape: true},
	}

	got := replica.Select(sources)
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 tape source, got %d: %v", len(got), got)
	}
	if got[0].RSE != "tape2" {
		t.Fatalf("expected tape2 (higher ranking), got %s", got[0].RSE)
	}
}

func TestSelectTapeDistanceTieBreak(t *testing.T) {
	sources := []replica.Source{
		{RSE: "tape1", Ranking: 0, Distance: 20, Tape: true},
		{RSE: "tape2", Ranking: 0, Distance: 10, Tape: true},
	}

	got := replica.Select(sources)
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 tape source, got %d", len(got))
	}
	if got[0].RSE != "tape2" {
		t.Fatalf("expected tape2 (smaller distance), got %s", got[0].RSE)
	}
}

func TestSelectSkipsConsumedSources(t *testing.T) {
	sources := []replica.Source{
		{RSE: "disk1", Ranking: 0, Distance: 10, InUse: true},
		{RSE: "tape1", Ranking: 0, Distance: 10, Tape: true},
	}

	got := replica.Select(sources)
	if len(got) != 1 || got[0].RSE != "tape1" {
		t.Fatalf("expected tape1 only, got %v", got)
	}
}

func TestSelectNothingEligible(t *testing.T) {
	sources := []replica.Source{
		{RSE: "disk1", Ranking: -1},
		{RSE: "tape1", Ranking: -1, Tape: true},
		{RSE: "disk2", Ranking: 2, InUse: true},
	}

	if got := replica.Select(sources); got != nil {
		t.Fatalf("expected no sources, got %v", got)
	}
}
