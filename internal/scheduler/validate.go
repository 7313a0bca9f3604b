package scheduler

import (
	"errors"
	"fmt"

	"github.com/gammazero/toposort"
)

var (
	ErrNoTasks        = errors.New("scheduler: task list is empty")
	ErrThreadCount    = errors.New("scheduler: thread count must be positive")
	ErrConnectCycle   = errors.New("scheduler: connected tasks form a cycle")
	ErrConnectMissing = errors.New("scheduler: connected task is not in the list and has not finished")
)

// validateConnections checks that connect links can be resolved: every
// connected task is either in the list or already terminal, and the links in
// the list are acyclic. A violation would leave tasks waiting forever.
func validateConnections(tasks []Task) error {
	index := make(map[*Base]int, len(tasks))
	for i, t := range tasks {
		index[t.base()] = i
	}

	var edges []toposort.Edge
	for i, t := range tasks {
		c := t.base().Connected()
		if c == nil {
			edges = append(edges, toposort.Edge{nil, i})
			continue
		}

		j, ok := index[c.base()]
		if !ok {
			if c.base().Status().Terminal() {
				// Finished in an earlier batch; resolved on the first poll.
				edges = append(edges, toposort.Edge{nil, i})
				continue
			}
			return fmt.Errorf("%w: task %d", ErrConnectMissing, i)
		}
		if j == i {
			return fmt.Errorf("%w: task %d is connected to itself", ErrConnectCycle, i)
		}

		// Edge (j, i) means j must finish before i
		edges = append(edges, toposort.Edge{j, i})
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectCycle, err)
	}
	return nil
}
