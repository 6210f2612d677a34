package scheduler

import (
	"fmt"
	"sort"
)

// CyclicError reports chunks that can never be scheduled, either because
// their dependencies form a cycle or because they name a chunk the document
// does not define. Remaining lists the stuck chunk indices.
type CyclicError struct {
	Remaining []int
}

func (e *CyclicError) Error() string {
	return fmt.Sprintf("unschedulable chunks (dependency cycle or unknown chunk): %v", e.Remaining)
}

// Waves groups chunks into execution waves: every chunk in a wave has all
// its dependencies satisfied by earlier waves, so chunks within one wave can
// run in parallel. A dependency must name a chunk in the set; one that never
// completes leaves its dependents in the *CyclicError stuck set.
func Waves(chunks []Chunk) ([][]int, error) {
	done := make(map[int]struct{}, len(chunks))
	var waves [][]int

	for len(done) < len(chunks) {
		var ready []int
		for _, c := range chunks {
			if _, ok := done[c.Index]; ok {
				continue
			}
			satisfied := true
			for _, dep := range c.DependsOn {
				if _, ok := done[dep]; !ok {
					satisfied = false
					break
				}
			}
			if satisfied {
				ready = append(ready, c.Index)
			}
		}

		if len(ready) == 0 {
			var remaining []int
			for _, c := range chunks {
				if _, ok := done[c.Index]; !ok {
					remaining = append(remaining, c.Index)
				}
			}
			sort.Ints(remaining)
			return nil, &CyclicError{Remaining: remaining}
		}

		sort.Ints(ready)
		waves = append(waves, ready)
		for _, n := range ready {
			done[n] = struct{}{}
		}
	}
	return waves, nil
}
