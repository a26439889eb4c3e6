package request_test

import (
	"reflect"
	"testing"

	"github.com/gridfab/courier/pkg/request"
	"github.com/gridfab/courier/pkg/topology"
)

func testCand(id, dest, host string, cost int64, hops ...topology.Hop) *request.Candidate {
	return &request.Candidate{
		Request: &request.Request{
			ID:           id,
			DestRSE:      dest,
			ExternalHost: host,
			State:        request.StateQueued,
		},
		Hops:      hops,
		TotalCost: cost,
	}
}

func candIDs(cands []*request.Candidate) []string {
	var ids []string
	for _, c := range cands {
		ids = append(ids, c.Request.ID)
	}
	return ids
}

func TestReducePipeline(t *testing.T) {
	cands := []*request.Candidate{
		testCand("r1", "rse1", "fts://a", 50),
		testCand("r2", "rse2", "fts://a", 10),
		testCand("r3", "rse9", "fts://b", 20), // out of scope
		testCand("r4", "rse3", "fts://b", 20), // no capable tool
		testCand("r5", "rse1", "fts://b", 20),
	}

	scope := map[string]bool{"rse1": true, "rse2": true, "rse3": true}
	tools := map[string][]string{
		"rse1": {"fts3"},
		"rse2": {"fts3", "globus"},
		"rse3": {"globus"},
	}

	got := request.Reduce(cands,
		request.FilterScope(scope),
		request.SortByCost(),
		request.FilterCapability(tools, "fts3"),
	)

	expected := []string{"r2", "r5", "r1"}
	if !reflect.DeepEqual(candIDs(got), expected) {
		t.Fatalf("expected %v, got %v", expected, candIDs(got))
	}
}

func TestFilterScopeChecksIntermediates(t *testing.T) {
	direct := testCand("r1", "rse2", "fts://a", 10,
		topology.Hop{Source: "rse1", Dest: "rse2", Cost: 10})
	viaOutside := testCand("r2", "rse2", "fts://a", 30,
		topology.Hop{Source: "rse1", Dest: "rse9", Cost: 10},
		topology.Hop{Source: "rse9", Dest: "rse2", Cost: 10})

	scope := map[string]bool{"rse1": true, "rse2": true}
	got := request.FilterScope(scope)([]*request.Candidate{direct, viaOutside})

	if !reflect.DeepEqual(candIDs(got), []string{"r1"}) {
		t.Fatalf("expected [r1], got %v", candIDs(got))
	}
}

func TestSortByCostStable(t *testing.T) {
	cands := []*request.Candidate{
		testCand("r1", "rse1", "h", 20),
		testCand("r2", "rse1", "h", 10),
		testCand("r3", "rse1", "h", 20),
		testCand("r4", "rse1", "h", 10),
	}

	got := request.SortByCost()(cands)
	expected := []string{"r2", "r4", "r1", "r3"}
	if !reflect.DeepEqual(candIDs(got), expected) {
		t.Fatalf("expected %v, got %v", expected, candIDs(got))
	}
}

func TestReduceIdempotent(t *testing.T) {
	build := func() []*request.Candidate {
		return []*request.Candidate{
			testCand("r1", "rse1", "h", 30),
			testCand("r2", "rse2", "h", 10),
			testCand("r3", "rse1", "h", 10),
		}
	}
	stages := func() []request.Stage {
		return []request.Stage{
			request.FilterScope(map[string]bool{"rse1": true, "rse2": true}),
			request.SortByCost(),
		}
	}

	first := candIDs(request.Reduce(build(), stages()...))
	second := candIDs(request.Reduce(build(), stages()...))
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("reduction not reproducible: %v then %v", first, second)
	}
}

func TestGroupByHost(t *testing.T) {
	cands := []*request.Candidate{
		testCand("r1", "rse1", "fts://b", 10),
		testCand("r2", "rse1", "fts://a", 20),
		testCand("r3", "rse1", "fts://b", 30),
	}

	groups := request.GroupByHost(cands)
	if !reflect.DeepEqual(request.Hosts(groups), []string{"fts://a", "fts://b"}) {
		t.Fatalf("unexpected hosts: %v", request.Hosts(groups))
	}
	if !reflect.DeepEqual(candIDs(groups["fts://b"]), []string{"r1", "r3"}) {
		t.Fatalf("group order not preserved: %v", candIDs(groups["fts://b"]))
	}
}
