package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/accdd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/accdd/internal/cycle"

// defaultMaxSteps caps node executions per graph run.
const defaultMaxSteps = 500

// NodeFunc executes one phase. A non-nil error marks the phase failed.
type NodeFunc func(ctx context.Context, s *State) error

// Router picks the next node from the state after a phase ran.
type Router func(s *State) Node

// Progress reports a node transition.
type Progress struct {
	Node      Node
	CycleID   string
	Iteration int
	Done      bool
	Err       error
	Duration  time.Duration
}

// ProgressCallback receives progress updates during a run.
type ProgressCallback func(p Progress)

// NodeObserver receives node latencies.
type NodeObserver interface {
	ObserveNode(node string, seconds float64)
}

type graphNode struct {
	run   NodeFunc
	route Router
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithMaxSteps overrides the per-run node execution cap.
func WithMaxSteps(n int) GraphOption {
	return func(g *Graph) { g.maxSteps = n }
}

// WithObserver reports node durations to o.
func WithObserver(o NodeObserver) GraphOption {
	return func(g *Graph) { g.observer = o }
}

// WithTracer overrides the tracer used for node spans.
func WithTracer(t trace.Tracer) GraphOption {
	return func(g *Graph) { g.tracer = t }
}

// Graph is a set of nodes joined by conditional edges.
type Graph struct {
	name     string
	entry    Node
	nodes    map[Node]graphNode
	logger   *logging.Logger
	observer NodeObserver
	tracer   trace.Tracer
	progress ProgressCallback
	maxSteps int
}

// NewGraph creates an empty graph starting at entry.
func NewGraph(name string, entry Node, logger *logging.Logger, opts ...GraphOption) *Graph {
	if logger == nil {
		logger = logging.NewNop()
	}
	g := &Graph{
		name:     name,
		entry:    entry,
		nodes:    make(map[Node]graphNode),
		logger:   logger.Named("graph"),
		tracer:   otel.Tracer(instrumentationName),
		maxSteps: defaultMaxSteps,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddNode registers fn as node n with its outgoing router.
func (g *Graph) AddNode(n Node, fn NodeFunc, route Router) {
	g.nodes[n] = graphNode{run: fn, route: route}
}

// OnProgress sets the progress callback.
func (g *Graph) OnProgress(cb ProgressCallback) {
	g.progress = cb
}

// Run executes the graph from its entry node until a terminal node. It
// returns the terminal node and, for NodeFailed, the error in s.Err.
func (g *Graph) Run(ctx context.Context, s *State) (Node, error) {
	ctx = logging.WithCycleID(ctx, s.CycleID)
	current := g.entry

	for step := 0; ; step++ {
		if current.IsTerminal() {
			s.CurrentPhase = string(current)
			if current == NodeFailed {
				if s.Err == nil {
					s.Err = phaseError(NodeFailed, KindInternal, errors.New("routed to failed without an error"), "")
				}
				return current, s.Err
			}
			return current, nil
		}

		if err := ctx.Err(); err != nil {
			s.Err = err
			s.CurrentPhase = string(NodeFailed)
			return NodeFailed, err
		}
		if step >= g.maxSteps {
			s.Err = phaseError(current, KindInternal, ErrStepLimit, fmt.Sprintf("%d steps", g.maxSteps))
			s.CurrentPhase = string(NodeFailed)
			return NodeFailed, s.Err
		}

		node, ok := g.nodes[current]
		if !ok {
			s.Err = phaseError(current, KindInternal, fmt.Errorf("node %q not registered in graph %s", current, g.name), "")
			s.CurrentPhase = string(NodeFailed)
			return NodeFailed, s.Err
		}

		s.Err = g.execute(ctx, current, node.run, s)
		s.CurrentPhase = string(current)

		next := NodeFailed
		if node.route != nil {
			next = node.route(s)
		} else if s.Err == nil {
			next = NodeEnd
		}
		g.logger.Debug(ctx, "transition",
			zap.String("from", string(current)),
			zap.String("to", string(next)),
			zap.Int("iteration", s.IterationCount),
		)
		current = next
	}
}

// execute runs one node inside a span, converting panics to errors.
func (g *Graph) execute(ctx context.Context, n Node, fn NodeFunc, s *State) (err error) {
	ctx, span := g.tracer.Start(ctx, "cycle."+string(n),
		trace.WithAttributes(
			attribute.String("graph", g.name),
			attribute.String("cycle.id", s.CycleID),
			attribute.Int("cycle.iteration", s.IterationCount),
		),
	)
	start := time.Now()
	g.report(Progress{Node: n, CycleID: s.CycleID, Iteration: s.IterationCount})

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error(ctx, "node panicked",
				zap.String("node", string(n)),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			err = phaseError(n, KindInternal, fmt.Errorf("panic: %v", r), "")
		}

		elapsed := time.Since(start)
		if g.observer != nil {
			g.observer.ObserveNode(string(n), elapsed.Seconds())
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		g.report(Progress{Node: n, CycleID: s.CycleID, Iteration: s.IterationCount, Done: true, Err: err, Duration: elapsed})
	}()

	return fn(ctx, s)
}

func (g *Graph) report(p Progress) {
	if g.progress != nil {
		g.progress(p)
	}
}
