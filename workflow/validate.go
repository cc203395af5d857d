package workflow

import (
	"fmt"

	"github.com/xraph/journey"
)

// Validate checks a workflow definition before it is persisted.
//
// Missing name/type or a node count above maxNodes yield a
// ValidationError. Graph problems — no trigger node, duplicate node ids,
// dangling successor references — yield a StructureError with every
// problem collected.
func Validate(w *Workflow, maxNodes int) error {
	var verr journey.ValidationError
	if w.Name == "" {
		verr.Add("name", "required")
	}
	if w.Type == "" {
		verr.Add("type", "required")
	}
	if maxNodes > 0 && len(w.Nodes) > maxNodes {
		verr.Add("nodes", "workflow has %d nodes, max is %d", len(w.Nodes), maxNodes)
	}
	if len(w.Nodes) == 0 {
		verr.Add("nodes", "workflow must contain at least one node")
	}
	if !verr.Empty() {
		return &verr
	}

	var serr journey.StructureError

	seen := make(map[string]struct{}, len(w.Nodes))
	triggers := 0
	for _, n := range w.Nodes {
		if n.ID == "" {
			serr.Problems = append(serr.Problems, "node with empty id")
			continue
		}
		if _, dup := seen[n.ID]; dup {
			serr.Problems = append(serr.Problems, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = struct{}{}
		if n.Type == NodeTypeTrigger {
			triggers++
		}
	}
	if triggers == 0 {
		serr.Problems = append(serr.Problems, "workflow has no trigger node")
	}

	// Every successor id must resolve within the same workflow.
	for _, n := range w.Nodes {
		for _, next := range n.Next {
			if _, ok := seen[next]; !ok {
				serr.Problems = append(serr.Problems,
					fmt.Sprintf("node %q references unknown successor %q", n.ID, next))
			}
		}
	}

	if len(serr.Problems) > 0 {
		return &serr
	}
	return nil
}
