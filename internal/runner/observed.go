package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/pipeline"
)

// phaseDoneFunc receives the record of a finished phase, its 1-based index
// and the number of selected phases.
type phaseDoneFunc func(rec domain.PhaseRecord, index, total int)

// observedFactory wraps every phase so its outcome is reported as soon as
// it finishes.
type observedFactory struct {
	inner  pipeline.PhaseFactory
	total  int
	now    func() time.Time
	onDone phaseDoneFunc

	mu    sync.Mutex
	count int
}

func (f *observedFactory) NewPhase(kind pipeline.PhaseKind) pipeline.Phase {
	p := f.inner.NewPhase(kind)
	if p == nil {
		return nil
	}
	f.mu.Lock()
	f.count++
	index := f.count
	f.mu.Unlock()
	return &observedPhase{Phase: p, index: index, factory: f}
}

type observedPhase struct {
	pipeline.Phase
	index   int
	factory *observedFactory
}

// Run reports the outcome, including a panic, before returning or re-panicking.
func (p *observedPhase) Run(ctx context.Context) (ok bool, err error) {
	f := p.factory
	start := f.now()
	defer func() {
		rec := domain.PhaseRecord{
			Name:      p.Phase.Description(),
			Success:   ok && err == nil,
			StartedAt: start,
			Duration:  f.now().Sub(start),
		}
		r := recover()
		switch {
		case r != nil:
			rec.Success = false
			rec.Error = fmt.Sprintf("panic: %v", r)
		case err != nil:
			rec.Error = err.Error()
		case !ok:
			rec.Error = "phase execution failed"
		}
		f.onDone(rec, p.index, f.total)
		if r != nil {
			panic(r)
		}
	}()
	return p.Phase.Run(ctx)
}
