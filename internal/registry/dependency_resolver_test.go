package registry

import (
	"strings"
	"testing"
)

func registerChain(t *testing.T, reg Registry, migrations ...*Migration) {
	t.Helper()
	for _, m := range migrations {
		if err := reg.Register(m); err != nil {
			t.Fatalf("Register(%s) error = %v", m.Name, err)
		}
	}
}

func TestResolveDependencies_PrevVersionChain(t *testing.T) {
	reg := NewInMemoryRegistry()
	m1 := &Migration{Version: "20240101120000", Name: "first", Connection: "core", Backend: "postgresql"}
	m2 := &Migration{Version: "20240102120000", Name: "second", PrevVersion: "20240101120000", Connection: "core", Backend: "postgresql"}
	m3 := &Migration{Version: "20240103120000", Name: "third", PrevVersion: "20240102120000", Connection: "core", Backend: "postgresql"}
	registerChain(t, reg, m3, m1, m2)

	resolver := NewDependencyResolver(reg)
	sorted, err := resolver.ResolveDependencies([]*Migration{m3, m1, m2})
	if err != nil {
		t.Fatalf("ResolveDependencies() error = %v", err)
	}

	wantOrder := []string{"first", "second", "third"}
	if len(sorted) != len(wantOrder) {
		t.Fatalf("ResolveDependencies() returned %d migrations, want %d", len(sorted), len(wantOrder))
	}
	for i, name := range wantOrder {
		if sorted[i].Name != name {
			t.Errorf("sorted[%d] = %s, want %s", i, sorted[i].Name, name)
		}
	}
}

func TestResolveDependencies_NamedDependency(t *testing.T) {
	reg := NewInMemoryRegistry()
	users := &Migration{Version: "20240102120000", Name: "create_users", Connection: "core", Backend: "postgresql"}
	orders := &Migration{
		Version:      "20240101120000",
		Name:         "create_orders",
		Connection:   "core",
		Backend:      "postgresql",
		Dependencies: []string{"create_users"},
	}
	registerChain(t, reg, users, orders)

	resolver := NewDependencyResolver(reg)
	sorted, err := resolver.ResolveDependencies([]*Migration{orders, users})
	if err != nil {
		t.Fatalf("ResolveDependencies() error = %v", err)
	}

	// create_orders has the lower version but must still run after
	// create_users because of the explicit dependency
	if sorted[0].Name != "create_users" || sorted[1].Name != "create_orders" {
		t.Errorf("got order [%s, %s], want [create_users, create_orders]", sorted[0].Name, sorted[1].Name)
	}
}

func TestResolveDependencies_StructuredDependency(t *testing.T) {
	reg := NewInMemoryRegistry()
	guard := &Migration{Version: "20240101120000", Name: "create_accounts", Connection: "guard", Backend: "postgresql"}
	core := &Migration{
		Version:    "20240101130000",
		Name:       "link_accounts",
		Connection: "core",
		Backend:    "postgresql",
		StructuredDependencies: []Dependency{
			{Connection: "guard", Target: "20240101120000", TargetType: "version"},
		},
	}
	registerChain(t, reg, core, guard)

	resolver := NewDependencyResolver(reg)
	sorted, err := resolver.ResolveDependencies([]*Migration{core, guard})
	if err != nil {
		t.Fatalf("ResolveDependencies() error = %v", err)
	}
	if sorted[0].Name != "create_accounts" {
		t.Errorf("sorted[0] = %s, want create_accounts", sorted[0].Name)
	}
}

func TestResolveDependencies_MissingDependency(t *testing.T) {
	reg := NewInMemoryRegistry()
	m := &Migration{
		Version:      "20240101120000",
		Name:         "orphan",
		Connection:   "core",
		Backend:      "postgresql",
		Dependencies: []string{"does_not_exist"},
	}
	registerChain(t, reg, m)

	resolver := NewDependencyResolver(reg)
	_, err := resolver.ResolveDependencies([]*Migration{m})
	if err == nil || !strings.Contains(err.Error(), "does_not_exist") {
		t.Errorf("ResolveDependencies() error = %v, want missing-dependency error", err)
	}
}

func TestResolveDependencies_MissingPrevVersion(t *testing.T) {
	reg := NewInMemoryRegistry()
	m := &Migration{
		Version:     "20240102120000",
		Name:        "second",
		PrevVersion: "20240101120000",
		Connection:  "core",
		Backend:     "postgresql",
	}
	registerChain(t, reg, m)

	resolver := NewDependencyResolver(reg)
	_, err := resolver.ResolveDependencies([]*Migration{m})
	if err == nil || !strings.Contains(err.Error(), "previous version") {
		t.Errorf("ResolveDependencies() error = %v, want missing-prev error", err)
	}
}

func TestResolveDependencies_CycleDetection(t *testing.T) {
	reg := NewInMemoryRegistry()
	a := &Migration{Version: "20240101120000", Name: "a", Connection: "core", Backend: "postgresql", Dependencies: []string{"b"}}
	b := &Migration{Version: "20240102120000", Name: "b", Connection: "core", Backend: "postgresql", Dependencies: []string{"a"}}
	registerChain(t, reg, a, b)

	resolver := NewDependencyResolver(reg)
	_, err := resolver.ResolveDependencies([]*Migration{a, b})
	if err == nil || !strings.Contains(err.Error(), "circular") {
		t.Errorf("ResolveDependencies() error = %v, want cycle error", err)
	}
}

func TestResolveDependencies_Empty(t *testing.T) {
	reg := NewInMemoryRegistry()
	resolver := NewDependencyResolver(reg)

	sorted, err := resolver.ResolveDependencies(nil)
	if err != nil {
		t.Errorf("ResolveDependencies() error = %v", err)
	}
	if len(sorted) != 0 {
		t.Errorf("ResolveDependencies() returned %d migrations, want 0", len(sorted))
	}
}

func TestTopologicalSort_DeterministicOrder(t *testing.T) {
	graph := NewDependencyGraph()
	m1 := &Migration{Version: "20240101120000", Name: "a", Connection: "core", Backend: "postgresql"}
	m2 := &Migration{Version: "20240102120000", Name: "b", Connection: "core", Backend: "postgresql"}
	m3 := &Migration{Version: "20240103120000", Name: "c", Connection: "core", Backend: "postgresql"}
	graph.AddNode(m3)
	graph.AddNode(m1)
	graph.AddNode(m2)

	sorted, err := graph.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort() error = %v", err)
	}
	// With no edges, ordering falls back to version order
	for i, want := range []string{"a", "b", "c"} {
		if sorted[i].Name != want {
			t.Errorf("sorted[%d] = %s, want %s", i, sorted[i].Name, want)
		}
	}
}
