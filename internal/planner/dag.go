package planner

import (
	"fmt"
	"strings"
)

// validatePhaseDAG topologically sorts phase ids by their dependsOn edges
// using Kahn's algorithm. On cycle detection it reports the cycle path.
func validatePhaseDAG(phaseIDs []string, dependsOn map[string][]string) ([]string, error) {
	if len(phaseIDs) == 0 {
		return nil, nil
	}

	idSet := make(map[string]bool, len(phaseIDs))
	for _, id := range phaseIDs {
		idSet[id] = true
	}

	inDegree := make(map[string]int, len(phaseIDs))
	forward := make(map[string][]string)
	for _, id := range phaseIDs {
		inDegree[id] = 0
	}

	for node, deps := range dependsOn {
		for _, dep := range deps {
			if !idSet[dep] {
				return nil, fmt.Errorf("phase %s depends on unknown phase %s", node, dep)
			}
			inDegree[node]++
			forward[dep] = append(forward[dep], node)
		}
	}

	var queue []string
	for _, id := range phaseIDs {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	var sorted []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		for _, dependent := range forward[node] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) == len(phaseIDs) {
		return sorted, nil
	}

	cyclePath := findCyclePath(phaseIDs, dependsOn, inDegree)
	return nil, fmt.Errorf("circular phase dependency: %s", strings.Join(cyclePath, " -> "))
}

// findCyclePath walks nodes with remaining in-degree via DFS to report
// one concrete cycle.
func findCyclePath(phaseIDs []string, edges map[string][]string, inDegree map[string]int) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int)
	parent := make(map[string]string)

	var cyclePath []string

	var dfs func(node string) bool
	dfs = func(node string) bool {
		color[node] = gray
		for _, dep := range edges[node] {
			if color[dep] == gray {
				cyclePath = []string{dep}
				current := node
				for current != dep {
					cyclePath = append(cyclePath, current)
					current = parent[current]
				}
				cyclePath = append(cyclePath, dep)
				for i, j := 0, len(cyclePath)-1; i < j; i, j = i+1, j-1 {
					cyclePath[i], cyclePath[j] = cyclePath[j], cyclePath[i]
				}
				return true
			}
			if color[dep] == white {
				parent[dep] = node
				if dfs(dep) {
					return true
				}
			}
		}
		color[node] = black
		return false
	}

	for _, id := range phaseIDs {
		if inDegree[id] > 0 && color[id] == white {
			if dfs(id) {
				return cyclePath
			}
		}
	}

	return []string{"(cycle detected)"}
}
