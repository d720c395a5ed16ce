package research

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// Node names, also used in NodeError and metadata entries.
const (
	nodePlanner       = "planner"
	nodeWebSearch     = "web_search"
	nodeCrawlDecision = "crawl_decision"
	nodeEnricher      = "enricher"
	nodeGrundsatz     = "grundsatz_search"
	nodeAggregator    = "aggregator"
	nodeSummariser    = "summariser"
	nodeDossier       = "dossier_writer"
)

// nodeFunc is one stage of a run. It receives a read-only snapshot of
// the state and returns its writes as a delta. A nil delta with a nil
// error is a no-op.
type nodeFunc func(ctx context.Context, st State) (*State, error)

// node declares a stage and its dependencies.
type node struct {
	name  string
	after []string
	run   nodeFunc
}

// graph executes nodes in dependency stages. Nodes whose dependencies
// are all satisfied share a stage and run concurrently; their deltas
// merge in declaration order, so parallel stages stay deterministic.
//
// A node error does not stop the run: it is recorded in State.Errors
// and the remaining stages see whatever the node managed to produce.
// Errors that abort per apperr.Aborts (invalid input, unauthorized,
// cancellation) stop the whole graph.
type graph struct {
	stages [][]node
	logger hclog.Logger
}

// newGraph validates the node set and precomputes its stages.
func newGraph(logger hclog.Logger, nodes []node) (*graph, error) {
	const op = "research.newGraph"

	if len(nodes) == 0 {
		return nil, apperr.New(op, apperr.InvalidInput, "graph has no nodes")
	}
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.name == "" {
			return nil, apperr.New(op, apperr.InvalidInput, "node without a name")
		}
		if n.run == nil {
			return nil, apperr.New(op, apperr.InvalidInput, fmt.Sprintf("node %q has no run func", n.name))
		}
		if known[n.name] {
			return nil, apperr.New(op, apperr.InvalidInput, fmt.Sprintf("duplicate node %q", n.name))
		}
		known[n.name] = true
	}
	for _, n := range nodes {
		for _, dep := range n.after {
			if !known[dep] {
				return nil, apperr.New(op, apperr.InvalidInput,
					fmt.Sprintf("node %q depends on unknown node %q", n.name, dep))
			}
		}
	}

	stages, err := stageNodes(nodes)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &graph{stages: stages, logger: logger}, nil
}

// stageNodes groups the nodes into executable stages, preserving
// declaration order within each stage.
func stageNodes(nodes []node) ([][]node, error) {
	const op = "research.newGraph"

	done := make(map[string]bool, len(nodes))
	remaining := nodes
	var stages [][]node
	for len(remaining) > 0 {
		var stage, next []node
		for _, n := range remaining {
			ready := true
			for _, dep := range n.after {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				stage = append(stage, n)
			} else {
				next = append(next, n)
			}
		}
		if len(stage) == 0 {
			return nil, apperr.New(op, apperr.InvalidInput, "dependency cycle between nodes")
		}
		for _, n := range stage {
			done[n.name] = true
		}
		stages = append(stages, stage)
		remaining = next
	}
	return stages, nil
}

// execute runs the stages in order and returns the final state.
func (g *graph) execute(ctx context.Context, st State) (State, error) {
	const op = "research.graph"

	for _, stage := range g.stages {
		if err := ctx.Err(); err != nil {
			return st, apperr.Wrap(op, apperr.Cancelled, err)
		}

		snapshot := st
		deltas := make([]*State, len(stage))
		soft := make([]error, len(stage))

		grp, gctx := errgroup.WithContext(ctx)
		for i, n := range stage {
			grp.Go(func() error {
				start := time.Now()
				delta, err := n.run(gctx, snapshot)
				g.logger.Debug("node finished", "node", n.name, "took", time.Since(start), "error", err)
				if err != nil {
					if apperr.Aborts(err) {
						return err
					}
					soft[i] = err
					return nil
				}
				deltas[i] = delta
				return nil
			})
		}
		if err := grp.Wait(); err != nil {
			return st, err
		}

		for i, n := range stage {
			if soft[i] != nil {
				st.Errors = append(st.Errors, NodeError{Node: n.name, Message: soft[i].Error()})
				continue
			}
			st.merge(deltas[i])
		}
	}

	if err := ctx.Err(); err != nil {
		return st, apperr.Wrap(op, apperr.Cancelled, err)
	}
	return st, nil
}
