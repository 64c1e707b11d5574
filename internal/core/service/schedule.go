package service

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/errors"
)

type handlerNode struct {
	handler  ports.Handler
	priority int
}

// readyQueue is the min-heap of zero-indegree scheduling candidates: lower
// priority value first, name as the deterministic tie-break.
type readyQueue []*handlerNode

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].handler.Name() < q[j].handler.Name()
}

func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x any) { *q = append(*q, x.(*handlerNode)) }

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// scheduleOrder computes the execution order for one (action, stage) batch:
// a topological sort over the declared dependency edges, selecting among
// unblocked handlers by priority. Dependency names that name no candidate in
// the batch are ignored, with a warning.
func (c *HandlersCollection) scheduleOrder(ctx context.Context, candidates []ports.Handler, action domain.Action, stage domain.Stage) ([]ports.Handler, error) {
	byName := make(map[string]ports.Handler, len(candidates))
	for _, h := range candidates {
		byName[h.Name()] = h
	}

	indegree := make(map[string]int, len(candidates))
	dependents := make(map[string][]string)
	for _, h := range candidates {
		indegree[h.Name()] += 0
		for _, dep := range h.Dependencies(action, stage) {
			if _, ok := byName[dep]; !ok {
				c.logger.Warnf(ctx, "handler %q depends on %q, which is not in the %s/%s batch; ignoring",
					h.Name(), dep, action, stage)
				continue
			}
			dependents[dep] = append(dependents[dep], h.Name())
			indegree[h.Name()]++
		}
	}

	q := make(readyQueue, 0, len(candidates))
	for _, h := range candidates {
		if indegree[h.Name()] == 0 {
			q = append(q, &handlerNode{handler: h, priority: h.DefaultPriority(action)})
		}
	}
	heap.Init(&q)

	order := make([]ports.Handler, 0, len(candidates))
	for q.Len() > 0 {
		node := heap.Pop(&q).(*handlerNode)
		order = append(order, node.handler)
		for _, name := range dependents[node.handler.Name()] {
			indegree[name]--
			if indegree[name] == 0 {
				next := byName[name]
				heap.Push(&q, &handlerNode{handler: next, priority: next.DefaultPriority(action)})
			}
		}
	}

	if len(order) != len(candidates) {
		var stuck []string
		for name, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, errors.New(errors.CodeHandlerError,
			fmt.Sprintf("handler dependency cycle for %s/%s involving: %s", action, stage, strings.Join(stuck, ", ")))
	}
	return order, nil
}
