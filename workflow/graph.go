package workflow

import (
	"fmt"
	"sort"

	"github.com/loomwork/loomwork/errs"
)

// validate checks referential integrity and acyclicity of the step graph
// (spec.md §4.F.1, §8 "cycle rejection" / "unknown dependency"). It does not
// mutate w and may be called repeatedly.
func (w *Workflow) validate() error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for id, s := range w.steps {
		for _, dep := range s.Dependencies {
			if _, ok := w.steps[dep]; !ok {
				return errs.New(errs.KindUnknownDependency, "workflow.validate",
					fmt.Sprintf("step %q depends on unknown step %q", id, dep))
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(w.steps))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		s := w.steps[id]
		deps := append([]string(nil), s.Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch color[dep] {
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			case gray:
				return errs.New(errs.KindCyclicGraph, "workflow.validate",
					fmt.Sprintf("cycle detected through step %q", dep))
			}
		}
		color[id] = black
		return nil
	}

	ids := append([]string(nil), w.order...)
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// waves partitions the step graph into topologically ordered batches: every
// step in wave N depends only on steps in waves 0..N-1 (spec.md §4.F.2,
// "parallel fan-in"). Each wave preserves the steps' relative insertion
// order. waves assumes validate has already succeeded.
func (w *Workflow) waves() [][]string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	remaining := make(map[string]bool, len(w.steps))
	for id := range w.steps {
		remaining[id] = true
	}

	var result [][]string
	for len(remaining) > 0 {
		var wave []string
		for _, id := range w.order {
			if !remaining[id] {
				continue
			}
			ready := true
			for _, dep := range w.steps[id].Dependencies {
				if remaining[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, id)
			}
		}
		for _, id := range wave {
			delete(remaining, id)
		}
		result = append(result, wave)
	}
	return result
}
