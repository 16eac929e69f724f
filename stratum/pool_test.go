package stratum

import "testing"

func testEndpoints() []EndpointConfig {
	return []EndpointConfig{
		{Name: "primary", Addr: "tcp://p", Priority: 0, Weight: 1, Enabled: true},
		{Name: "backup", Addr: "tcp://b", Priority: 1, Weight: 1, Enabled: true},
		{Name: "disabled", Addr: "tcp://d", Priority: 2, Weight: 1, Enabled: false},
	}
}

func TestSelectPriorityPicksLowestPriorityNumber(t *testing.T) {
	pm := NewPoolManager(PoolManagerConfig{Endpoints: testEndpoints(), Strategy: FailoverPriority})

	name, err := pm.selectPool(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "primary" {
		t.Fatalf("expected primary pool to win on priority, got %s", name)
	}
}

func TestSelectPriorityFallsBackWhenExcluded(t *testing.T) {
	pm := NewPoolManager(PoolManagerConfig{Endpoints: testEndpoints(), Strategy: FailoverPriority})

	name, err := pm.selectPool([]string{"primary"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "backup" {
		t.Fatalf("expected backup pool once primary is excluded, got %s", name)
	}
}

func TestSelectPoolIgnoresDisabledEndpoints(t *testing.T) {
	pm := NewPoolManager(PoolManagerConfig{Endpoints: testEndpoints(), Strategy: FailoverPriority})

	if _, ok := pm.sessions["disabled"]; ok {
		t.Fatal("expected no session to be created for a disabled endpoint")
	}
}

func TestSelectRoundRobinCyclesAcrossEnabledEndpoints(t *testing.T) {
	pm := NewPoolManager(PoolManagerConfig{Endpoints: testEndpoints(), Strategy: FailoverRoundRobin})

	seen := make([]string, 4)
	for i := range seen {
		name, err := pm.selectPool(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen[i] = name
	}
	want := []string{"primary", "backup", "primary", "backup"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected round robin sequence %v, got %v", want, seen)
		}
	}
}

func TestSelectWeightedAlwaysPicksSoleWeightedEndpoint(t *testing.T) {
	eps := []EndpointConfig{
		{Name: "only", Addr: "tcp://o", Weight: 5, Enabled: true},
	}
	pm := NewPoolManager(PoolManagerConfig{Endpoints: eps, Strategy: FailoverWeighted})

	name, err := pm.selectPool(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "only" {
		t.Fatalf("expected the sole endpoint to be selected, got %s", name)
	}
}

func TestConnectFailsWithNoPoolsConfigured(t *testing.T) {
	pm := NewPoolManager(PoolManagerConfig{})
	if err := pm.Connect(nil); err == nil {
		t.Fatal("expected connect to fail with no configured pools")
	}
}

func TestActiveReportsFalseBeforeConnect(t *testing.T) {
	pm := NewPoolManager(PoolManagerConfig{Endpoints: testEndpoints(), Strategy: FailoverPriority})
	if _, ok := pm.Active(); ok {
		t.Fatal("expected no active pool before Connect")
	}
}
