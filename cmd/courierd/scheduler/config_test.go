package scheduler

import (
	"reflect"
	"runtime"
	"testing"

	"golang.org/x/net/context"

	"github.com/gridfab/courier/cmd/courierd/config"
	"github.com/gridfab/courier/pkg/checksum"
	"github.com/gridfab/courier/pkg/client"
	"github.com/gridfab/courier/pkg/request"
)

func TestLoadConfig(t *testing.T) {
	loaded, err := LoadConfig("./test-fixtures/good-config")
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	expected := &Config{
		Interval:       "5s",
		Executable:     config.DefaultExecutable,
		Submitters:     2,
		FetchLimit:     100,
		Account:        "prod-transfer",
		Activities:     []string{"staging"},
		Transfertool:   "fts3",
		GroupPolicy:    "activity_dest",
		GroupBulk:      50,
		MaxTimeInQueue: []string{"analysis:48"},
		RedisServer:    "redis.example.org:6379",
		Auth: &client.AuthConfig{
			Type:    "token",
			Account: "prod-transfer",
			Token:   "abc123",
		},
		Topology: &topologyConfig{
			RSEs: []*rseConfig{
				{
					Name: "RSE1",
					Attributes: map[string]string{
						"fts": "https://fts.example.org:8446",
					},
				},
				{
					Name: "RSE2",
					Tape: true,
					Attributes: map[string]string{
						"fts": "https://fts.example.org:8446",
					},
				},
				{
					Name:     "RSE3",
					Multihop: true,
				},
			},
			Links: []*linkConfig{
				{Pair: "RSE1->RSE2", Cost: 10},
				{Pair: "RSE1->RSE3", Cost: 5},
			},
		},
		Requests: []*requestConfig{
			{
				ID:       "r1",
				Scope:    "data",
				Name:     "file-1",
				Bytes:    1048576,
				Dest:     "RSE2",
				Activity: "staging",
				Rule:     "rule-1",
				Adler32:  "8A23D4F2",
				Sources: []*sourceConfig{
					{RSE: "RSE1", Ranking: 1, Distance: 10},
				},
			},
		},
	}

	if !reflect.DeepEqual(loaded, expected) {
		t.Fatalf("\nexpected:\n%s\ngot:\n%s\n", expected, loaded)
	}

	if err := loaded.checkValid(); err != nil {
		t.Fatalf("good config rejected: %s", err)
	}
}

func TestMergedConfig(t *testing.T) {
	defCfg := NewConfig()
	loaded, err := LoadConfig("./test-fixtures/merge-config")
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	got := defCfg.Merge(loaded)

	expected := NewConfig()
	expected.Interval = "30s"
	expected.Once = true
	expected.Submitters = 8
	expected.ExcludeRSEs = []string{"TAPE1"}

	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("\nexpected:\n%s\ngot:\n%s\n", expected, got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := NewConfig()

	if cfg.Interval != config.DefaultInterval {
		t.Fatalf("interval = %q", cfg.Interval)
	}
	if cfg.Submitters != runtime.NumCPU() {
		t.Fatalf("submitters = %d", cfg.Submitters)
	}
	if err := cfg.checkValid(); err != nil {
		t.Fatalf("default config rejected: %s", err)
	}
}

func TestConfigValidation(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.Interval = "soon" },
		func(c *Config) { c.Interval = "-10s" },
		func(c *Config) { c.Executable = "" },
		func(c *Config) { c.Submitters = 0 },
		func(c *Config) { c.FetchLimit = 0 },
		func(c *Config) { c.GroupPolicy = "everything" },
		func(c *Config) { c.MaxTimeInQueue = []string{"analysis"} },
		func(c *Config) { c.RetryDelay = "whenever" },
		func(c *Config) { c.HeartbeatExpiry = "later" },
		func(c *Config) {
			c.Topology = &topologyConfig{
				RSEs:  []*rseConfig{{Name: "RSE1"}},
				Links: []*linkConfig{{Pair: "RSE1:RSE2", Cost: 1}},
			}
		},
		func(c *Config) {
			c.Topology = &topologyConfig{
				RSEs:  []*rseConfig{{Name: "RSE1"}},
				Links: []*linkConfig{{Pair: "RSE1->RSE9", Cost: 1}},
			}
		},
		func(c *Config) {
			c.Requests = []*requestConfig{{ID: "r1", Name: "f"}}
		},
		func(c *Config) {
			c.Requests = []*requestConfig{
				{ID: "r1", Name: "f", Dest: "RSE1", Adler32: "not-hex!"},
			}
		},
	}

	for i, mangle := range bad {
		cfg := NewConfig()
		mangle(cfg)
		if err := cfg.checkValid(); err == nil {
			t.Fatalf("bad config %d accepted", i)
		}
	}
}

func TestTopologyBuild(t *testing.T) {
	loaded, err := LoadConfig("./test-fixtures/good-config")
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	store, err := loaded.Topology.Build()
	if err != nil {
		t.Fatal(err)
	}

	rses, err := store.RSEs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rses) != 3 {
		t.Fatalf("got %d RSEs", len(rses))
	}
	if !rses[1].Tape {
		t.Fatal("RSE2 lost its tape flag")
	}
	if !rses[2].Multihop() {
		t.Fatal("RSE3 lost its multihop flag")
	}

	edges, err := store.Distances(context.Background(), "RSE1")
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 2 {
		t.Fatalf("got %d edges from RSE1", len(edges))
	}
	if edges[0].Dest != "RSE2" || edges[0].Cost != 10 {
		t.Fatalf("unexpected edge %+v", edges[0])
	}
}

func TestSeed(t *testing.T) {
	loaded, err := LoadConfig("./test-fixtures/good-config")
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	store := request.NewMemStore()
	if err := loaded.Seed(context.Background(), store); err != nil {
		t.Fatal(err)
	}

	req, err := store.Get("r1")
	if err != nil {
		t.Fatal(err)
	}
	if req.State != request.StatePreparing {
		t.Fatalf("seeded request in state %s", req.State)
	}
	if req.RuleID != "rule-1" {
		t.Fatalf("seeded request in rule %q", req.RuleID)
	}
	if req.Checksums[checksum.Adler32] != "8a23d4f2" {
		t.Fatalf("seeded checksums %v", req.Checksums)
	}

	cands, err := store.NextToSubmit(context.Background(), 1, 0, 10, request.StatePreparing, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || len(cands[0].Sources) != 1 {
		t.Fatalf("seeded backlog came back as %d candidates", len(cands))
	}
	if cands[0].Sources[0].RSE != "RSE1" {
		t.Fatalf("seeded source %q", cands[0].Sources[0].RSE)
	}
}
