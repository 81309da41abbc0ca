package plan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"querycore/pkg/config"
	"querycore/pkg/iterator"
	"querycore/pkg/logging"
	"querycore/pkg/statistics"
	"querycore/pkg/tuple"
)

// Runtime is the per-query execution scope: cancellation, tuning knobs and
// statistics. It is created at build time and discarded when the result
// iterator closes.
type Runtime struct {
	QueryID uuid.UUID
	Ctx     context.Context
	Cfg     *config.Config
	Stats   statistics.Provider
	Log     *slog.Logger
}

// NewRuntime seats a runtime with defaults filled in.
func NewRuntime(ctx context.Context, cfg *config.Config, stats statistics.Provider) *Runtime {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	id := uuid.New()
	return &Runtime{
		QueryID: id,
		Ctx:     ctx,
		Cfg:     cfg,
		Stats:   stats,
		Log:     logging.ForComponent("plan").With("query_id", id.String()),
	}
}

// guard enforces cooperative cancellation at every row boundary of the
// operator it wraps, so a cancelled caller unwinds without the operators
// themselves polling the context.
type guard struct {
	inner iterator.DbIterator
	ctx   context.Context
}

func (g *guard) Open() error {
	if err := g.ctx.Err(); err != nil {
		return err
	}
	return g.inner.Open()
}

func (g *guard) HasNext() (bool, error) {
	if err := g.ctx.Err(); err != nil {
		return false, err
	}
	return g.inner.HasNext()
}

func (g *guard) Next() (*tuple.Tuple, error) {
	if err := g.ctx.Err(); err != nil {
		return nil, err
	}
	return g.inner.Next()
}

func (g *guard) Rewind() error {
	if err := g.ctx.Err(); err != nil {
		return err
	}
	return g.inner.Rewind()
}

func (g *guard) Close() error {
	return g.inner.Close()
}

func (g *guard) GetTupleDesc() *tuple.TupleDescription {
	return g.inner.GetTupleDesc()
}

var _ iterator.DbIterator = (*guard)(nil)

// wrap shields an operator with the runtime's cancellation scope.
func (rt *Runtime) wrap(it iterator.DbIterator) iterator.DbIterator {
	return &guard{inner: it, ctx: rt.Ctx}
}

func (rt *Runtime) logNode(n *Node, detail ...any) {
	if rt.Log == nil {
		return
	}
	args := append([]any{"node", n.Kind.String()}, detail...)
	rt.Log.Debug(fmt.Sprintf("built %s node", n.Kind), args...)
}
