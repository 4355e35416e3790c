package config

import (
	"fmt"

	"github.com/corvidwatch/sentryd/internal/objects"
)

// Validate is the pre-flight sweep run after a successful load: per-entity
// sanity checks first, then cycle detection over every reference graph that
// must stay acyclic (host parents, dependencies, timeperiod exclusions).
// All problems are collected; nothing short-circuits.
func Validate(store *objects.ObjectStore) []error {
	var errs []error

	for _, h := range store.Hosts {
		if h.Name == "" {
			errs = append(errs, fmt.Errorf("host has no host_name"))
		}
		if h.Alias == "" {
			errs = append(errs, fmt.Errorf("host '%s': missing alias", h.Name))
		}
		if h.MaxCheckAttempts < 1 {
			errs = append(errs, fmt.Errorf("host '%s': max_check_attempts must be >= 1 (got %d)", h.Name, h.MaxCheckAttempts))
		}
		if len(h.ContactGroups) == 0 && len(h.Contacts) == 0 {
			errs = append(errs, fmt.Errorf("host '%s': has no contacts or contact_groups", h.Name))
		}
	}

	for _, svc := range store.Services {
		if svc.Host == nil {
			errs = append(errs, fmt.Errorf("service '%s': has no host", svc.Description))
			continue
		}
		where := svc.Host.Name + "/" + svc.Description
		if svc.Description == "" {
			errs = append(errs, fmt.Errorf("service on host '%s': missing service_description", svc.Host.Name))
		}
		if svc.MaxCheckAttempts < 1 {
			errs = append(errs, fmt.Errorf("service '%s': max_check_attempts must be >= 1 (got %d)", where, svc.MaxCheckAttempts))
		}
		if svc.CheckCommand == nil {
			errs = append(errs, fmt.Errorf("service '%s': missing check_command", where))
		}
		if len(svc.ContactGroups) == 0 && len(svc.Contacts) == 0 {
			errs = append(errs, fmt.Errorf("service '%s': has no contacts or contact_groups", where))
		}
	}

	for _, c := range store.Contacts {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("contact has no contact_name"))
		}
	}
	for _, cg := range store.ContactGroups {
		if cg.Name == "" {
			errs = append(errs, fmt.Errorf("contactgroup has no contactgroup_name"))
		}
	}

	for _, g := range referenceGraphs(store) {
		if node, cyclic := g.findCycle(); cyclic {
			errs = append(errs, fmt.Errorf("circular %s detected at '%s'", g.what, node))
		}
	}
	return errs
}

// refGraph is a directed reference graph over node names; every graph
// checked here must be a DAG.
type refGraph struct {
	what  string
	edges map[string][]string
}

func (g *refGraph) addEdge(from, to string) {
	if g.edges == nil {
		g.edges = make(map[string][]string)
	}
	g.edges[from] = append(g.edges[from], to)
}

// findCycle runs a three-color depth-first search and reports the first node
// found on a cycle.
func (g *refGraph) findCycle() (string, bool) {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(g.edges))

	var visit func(node string) (string, bool)
	visit = func(node string) (string, bool) {
		switch state[node] {
		case onStack:
			return node, true
		case done:
			return "", false
		}
		state[node] = onStack
		for _, next := range g.edges[node] {
			if hit, cyclic := visit(next); cyclic {
				return hit, true
			}
		}
		state[node] = done
		return "", false
	}

	for node := range g.edges {
		if hit, cyclic := visit(node); cyclic {
			return hit, true
		}
	}
	return "", false
}

func referenceGraphs(store *objects.ObjectStore) []*refGraph {
	parents := &refGraph{what: "host parent chain"}
	for _, h := range store.Hosts {
		for _, p := range h.Parents {
			parents.addEdge(h.Name, p.Name)
		}
	}

	hostDeps := &refGraph{what: "host dependency"}
	for _, hd := range store.HostDependencies {
		if hd.Host != nil && hd.DependentHost != nil {
			hostDeps.addEdge(hd.DependentHost.Name, hd.Host.Name)
		}
	}

	svcDeps := &refGraph{what: "service dependency"}
	for _, sd := range store.ServiceDependencies {
		if sd.Service != nil && sd.DependentService != nil {
			svcDeps.addEdge(
				sd.DependentHost.Name+"/"+sd.DependentService.Description,
				sd.Host.Name+"/"+sd.Service.Description,
			)
		}
	}

	exclusions := &refGraph{what: "timeperiod exclusion"}
	for _, tp := range store.Timeperiods {
		for _, exc := range tp.Exclusions {
			exclusions.addEdge(tp.Name, exc.Name)
		}
	}

	return []*refGraph{parents, hostDeps, svcDeps, exclusions}
}
