package transfertool_test

import (
	"reflect"
	"testing"

	"golang.org/x/net/context"

	"github.com/gridfab/courier/pkg/topology"
	"github.com/gridfab/courier/pkg/transfertool"
)

func capStore() *topology.MemStore {
	store := topology.NewMemStore()
	store.AddRSE(topology.RSE{ID: "RSE1"})
	store.AddRSE(topology.RSE{ID: "RSE2", Attributes: map[string]string{
		transfertool.TransfertoolsAttr: "fts3, globus",
	}})
	return store
}

func TestSupportedToolsDefault(t *testing.T) {
	caps := transfertool.AttrCapabilities{Store: capStore()}

	tools, err := caps.SupportedTools(context.Background(), "RSE1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(tools, []string{transfertool.DefaultTool}) {
		t.Fatalf("got %v", tools)
	}
}

func TestSupportedToolsAttribute(t *testing.T) {
	caps := transfertool.AttrCapabilities{Store: capStore()}

	tools, err := caps.SupportedTools(context.Background(), "RSE2")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(tools, []string{"fts3", "globus"}) {
		t.Fatalf("got %v", tools)
	}
}

func TestSupportedToolsUnknownRSE(t *testing.T) {
	caps := transfertool.AttrCapabilities{Store: capStore()}

	if _, err := caps.SupportedTools(context.Background(), "RSE9"); err == nil {
		t.Fatal("unknown RSE resolved without error")
	}
}

func TestCapabilityMap(t *testing.T) {
	caps := transfertool.AttrCapabilities{Store: capStore()}

	byRSE, err := transfertool.CapabilityMap(context.Background(), caps, []string{"RSE1", "RSE2"})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][]string{
		"RSE1": {transfertool.DefaultTool},
		"RSE2": {"fts3", "globus"},
	}
	if !reflect.DeepEqual(byRSE, want) {
		t.Fatalf("got %v, want %v", byRSE, want)
	}
}
