// Package orchestrator drives one conversation turn through a fixed graph of
// processing nodes: compress history, resolve back-references, route intent,
// gate on confirmation, execute actions, and build the reply. Nodes return
// partial updates; the graph applies them and picks the next node from a
// deterministic transition table.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/adpilot-ai/adpilot/pkg/turn"
)

// Node names.
const (
	nodeCompress = "compress"
	nodeResolve  = "resolve"
	nodeRoute    = "route"
	nodeGate     = "gate"
	nodeExecute  = "execute"
	nodeRespond  = "respond"
)

// maxGraphSteps bounds a single turn. The execute node loops once per pending
// action, so the ceiling only trips on a transition bug.
const maxGraphSteps = 32

// node is a single processing step. It must not mutate the state directly;
// changes flow back through the returned update.
type node func(ctx context.Context, st *turn.State) (*turn.Update, error)

// graph pairs nodes with a transition function. Transitions depend only on
// the state, so replaying a checkpoint walks the same path.
type graph struct {
	nodes map[string]node
	next  func(current string, st *turn.State) string
}

// run executes the graph from entry until a node transitions to "".
func (g *graph) run(ctx context.Context, entry string, st *turn.State) error {
	current := entry
	for steps := 0; current != ""; steps++ {
		if steps >= maxGraphSteps {
			return fmt.Errorf("graph exceeded %d steps at node %q", maxGraphSteps, current)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		n, ok := g.nodes[current]
		if !ok {
			return fmt.Errorf("unknown graph node %q", current)
		}

		update, err := n(ctx, st)
		if err != nil {
			return fmt.Errorf("node %s: %w", current, err)
		}
		st.Apply(update)

		current = g.next(current, st)
	}
	return nil
}
