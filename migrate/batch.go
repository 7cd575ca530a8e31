package migrate

import (
	"fmt"
	"sort"
)

// BuildBatches orders operations into execution levels. Dependencies come
// from three sources: a table's create operation precedes every other
// operation on that table, an operation referencing a table (foreign key
// targets) follows that table's create, and an index or constraint on a
// column follows the operation adding that column. Explicit DependsOn edges
// are added on top. A cycle is an error and names the cycle path.
func BuildBatches(ops []Operation) ([]Batch, error) {
	byID := make(map[string]Operation, len(ops))
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byID[op.ID]; dup {
			return nil, fmt.Errorf("duplicate operation id %q", op.ID)
		}
		byID[op.ID] = op
	}

	creates := make(map[string]string)
	addsColumn := make(map[string]string)
	for _, op := range ops {
		switch op.Kind {
		case KindCreateTable:
			creates[op.Table] = op.ID
		case KindAddColumn:
			addsColumn[op.Table+"."+op.Column] = op.ID
		}
	}

	parents := make(map[string][]string, len(ops))
	addEdge := func(from, to string) {
		if from == to {
			return
		}
		for _, p := range parents[to] {
			if p == from {
				return
			}
		}
		parents[to] = append(parents[to], from)
	}

	for _, op := range ops {
		if op.Kind != KindCreateTable && op.Table != "" {
			if creator, ok := creates[op.Table]; ok {
				addEdge(creator, op.ID)
			}
		}
		for _, ref := range op.References {
			if creator, ok := creates[ref]; ok {
				addEdge(creator, op.ID)
			}
		}
		if (op.Kind == KindAddIndex || op.Kind == KindAddConstraint) && op.Column != "" {
			if adder, ok := addsColumn[op.Table+"."+op.Column]; ok {
				addEdge(adder, op.ID)
			}
		}
		for _, dep := range op.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("operation %s depends on unknown operation %q", op.ID, dep)
			}
			addEdge(dep, op.ID)
		}
	}

	if cycle := findCycle(byID, parents); cycle != nil {
		return nil, fmt.Errorf("dependency cycle: %v", cycle)
	}

	// Level of an operation is one past the deepest dependency.
	levels := make(map[string]int, len(ops))
	var levelOf func(id string) int
	levelOf = func(id string) int {
		if lvl, ok := levels[id]; ok {
			return lvl
		}
		max := -1
		for _, p := range parents[id] {
			if l := levelOf(p); l > max {
				max = l
			}
		}
		levels[id] = max + 1
		return max + 1
	}

	depth := 0
	for _, op := range ops {
		if l := levelOf(op.ID); l > depth {
			depth = l
		}
	}

	batches := make([]Batch, depth+1)
	for i := range batches {
		batches[i].Level = i
	}
	for _, op := range ops {
		lvl := levels[op.ID]
		batches[lvl].Operations = append(batches[lvl].Operations, op)
	}
	for i := range batches {
		sort.Slice(batches[i].Operations, func(a, b int) bool {
			return batches[i].Operations[a].ID < batches[i].Operations[b].ID
		})
		batches[i].Parallel = isSafeForParallel(batches[i].Operations)
	}
	return batches, nil
}

// isSafeForParallel reports whether a level's operations may run
// concurrently: more than one operation, pairwise-disjoint tables, and no
// destructive kinds.
func isSafeForParallel(ops []Operation) bool {
	if len(ops) < 2 {
		return false
	}
	tables := make(map[string]bool, len(ops))
	for _, op := range ops {
		if op.Kind.Destructive() {
			return false
		}
		if op.Table == "" || tables[op.Table] {
			return false
		}
		tables[op.Table] = true
	}
	// References are checked against the complete table set so the verdict
	// does not depend on the operations' order within the level.
	for _, op := range ops {
		for _, ref := range op.References {
			if ref != op.Table && tables[ref] {
				return false
			}
		}
	}
	return true
}

// findCycle runs a depth-first search over the dependency edges and returns
// the cycle path when one exists, nil otherwise.
func findCycle(byID map[string]Operation, parents map[string][]string) []string {
	visited := make(map[string]bool)
	inStack := make(map[string]bool)
	prev := make(map[string]string)

	var cycle []string
	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		inStack[id] = true
		for _, p := range parents[id] {
			if !visited[p] {
				prev[p] = id
				if dfs(p) {
					return true
				}
			} else if inStack[p] {
				cycle = []string{p}
				for curr := id; curr != p; curr = prev[curr] {
					cycle = append(cycle, curr)
				}
				cycle = append(cycle, p)
				return true
			}
		}
		inStack[id] = false
		return false
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !visited[id] {
			if dfs(id) {
				return cycle
			}
		}
	}
	return nil
}
