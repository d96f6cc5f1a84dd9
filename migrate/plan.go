package migrate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/allthingslinux/schemaport/mapping"
)

// ErrCyclicDependency means the declared depends_on edges form a cycle.
// Nothing is executed when planning fails.
var ErrCyclicDependency = errors.New("cyclic table dependency")

// Plan orders the registry's source tables so that every table comes after
// the tables it declares in depends_on. Tables with no ordering constraint
// between them run in alphabetical order, so a plan is reproducible across
// runs and machines.
func Plan(reg *mapping.Registry) ([]string, error) {
	names := make([]string, 0, len(reg.Tables))
	indegree := make(map[string]int, len(reg.Tables))
	dependents := make(map[string][]string)
	for _, m := range reg.Tables {
		names = append(names, m.SourceTable)
		indegree[m.SourceTable] = 0
	}
	for _, m := range reg.Tables {
		for _, dep := range m.DependsOn {
			if _, ok := indegree[dep]; !ok {
				return nil, fmt.Errorf("table %s depends on %s which has no mapping", m.SourceTable, dep)
			}
			indegree[m.SourceTable]++
			dependents[dep] = append(dependents[dep], m.SourceTable)
		}
	}
	sort.Strings(names)

	order := make([]string, 0, len(names))
	placed := make(map[string]bool, len(names))
	for len(order) < len(names) {
		progressed := false
		for _, n := range names {
			if placed[n] || indegree[n] != 0 {
				continue
			}
			placed[n] = true
			order = append(order, n)
			for _, d := range dependents[n] {
				indegree[d]--
			}
			progressed = true
			break
		}
		if !progressed {
			var cycle []string
			for _, n := range names {
				if !placed[n] {
					cycle = append(cycle, n)
				}
			}
			return nil, fmt.Errorf("%w: %s", ErrCyclicDependency, strings.Join(cycle, ", "))
		}
	}
	return order, nil
}
