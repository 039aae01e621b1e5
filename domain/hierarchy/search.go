package hierarchy

import "context"

// frame is a pending group in the depth-first walk with the labels of the groups above it.
type frame struct {
	node   Node
	prefix []string
}

type childrenFunc func(ctx context.Context, n Node) ([]Node, error)

// findSubscription walks groups depth-first from starts and returns the first group whose
// children include the subscription. The walk uses an explicit stack and a visited set keyed
// by group id, so it terminates even when a misconfigured tree repeats a group. Only group
// nodes are followed.
func findSubscription(ctx context.Context, starts []frame, subscriptionID string, children childrenFunc) (Result, bool, error) {
	visited := map[string]bool{}
	stack := make([]frame, 0, len(starts))
	for i := len(starts) - 1; i >= 0; i-- {
		if starts[i].node.Kind == KindGroup {
			stack = append(stack, starts[i])
		}
	}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return Result{}, false, err
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		key := nodeKey(f.node)
		if visited[key] {
			continue
		}
		visited[key] = true

		path := make([]string, 0, len(f.prefix)+1)
		path = append(path, f.prefix...)
		path = append(path, f.node.Label())

		kids, err := children(ctx, f.node)
		if err != nil {
			return Result{}, false, err
		}
		for _, k := range kids {
			if matchesSubscription(k, subscriptionID) {
				return Result{Name: f.node.Label(), Path: path}, true, nil
			}
		}
		// push in reverse so the first child is expanded first
		for i := len(kids) - 1; i >= 0; i-- {
			k := kids[i]
			if k.Kind == KindGroup && !visited[nodeKey(k)] {
				stack = append(stack, frame{node: k, prefix: path})
			}
		}
	}
	return Result{}, false, nil
}

// ancestry returns the labels of g's known ancestors, root first, excluding g itself.
func ancestry(g Node, parents map[string]Node) []string {
	var labels []string
	seen := map[string]bool{nodeKey(g): true}
	for p, ok := parents[nodeKey(g)]; ok; p, ok = parents[nodeKey(p)] {
		if seen[nodeKey(p)] {
			break
		}
		seen[nodeKey(p)] = true
		labels = append(labels, p.Label())
	}
	reverse(labels)
	return labels
}

// forest wraps tree roots as walk starting points.
func forest(roots []Node) []frame {
	starts := make([]frame, len(roots))
	for i, r := range roots {
		starts[i] = frame{node: r}
	}
	return starts
}
