// Package instrument rewrites method bodies to record coverage.
//
// Rewriting a class is a pipeline over each of its methods: the Enumerator
// registers line, jump and switch records and annotates the original
// stream, then Inject turns the annotated stream into the instrumented one.
// Ids come from an Allocator owned by the class session, so instrumenting
// the same class twice with fresh allocators yields the same ids.
package instrument

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/magcov/coverage"
	"github.com/chazu/magcov/diag"
	"github.com/chazu/magcov/insn"
	"github.com/chazu/magcov/probe"
)

// Options configures an Instrumenter.
type Options struct {
	Branches     bool // instrument jumps and switches
	Instructions bool // count instructions per line
	TestTracking bool // track the unique test covering each line

	Filters []FilterFactory

	// Select reports whether a class should be instrumented. Nil selects
	// every class.
	Select func(className string) bool

	// Workers bounds concurrent class sessions in InstrumentAll. Zero or
	// less means one per class.
	Workers int

	// Registry, when set, receives a counter array for every instrumented
	// class.
	Registry *probe.Registry

	Reporter diag.Reporter
}

// Instrumenter rewrites classes and registers their records in a project.
type Instrumenter struct {
	project *coverage.Project
	opts    Options
}

// New creates an Instrumenter adding records to project.
func New(project *coverage.Project, opts Options) *Instrumenter {
	if opts.Reporter == nil {
		opts.Reporter = diag.Nop
	}
	return &Instrumenter{project: project, opts: opts}
}

// Project returns the project records are registered in.
func (in *Instrumenter) Project() *coverage.Project {
	return in.project
}

func (in *Instrumenter) flags() coverage.Flags {
	var f coverage.Flags
	if in.opts.Branches {
		f |= coverage.FlagBranches
	}
	if in.opts.Instructions {
		f |= coverage.FlagInstructions
	}
	if in.opts.TestTracking {
		f |= coverage.FlagTestTracking
	}
	return f
}

// InstrumentClass rewrites every method of c in one session and returns the
// rewritten class with its coverage record. Unselected classes are returned
// unchanged with a nil record. Malformed methods keep their branches
// uninstrumented and are reported; they never fail the class.
func (in *Instrumenter) InstrumentClass(c *insn.Class) (*insn.Class, *coverage.Class) {
	if in.opts.Select != nil && !in.opts.Select(c.Name) {
		return c, nil
	}

	record := coverage.NewClass(c.Name, in.flags())
	alloc := NewAllocator(in.opts.Instructions)
	filters := make([]Filter, 0, len(in.opts.Filters))
	for _, nf := range in.opts.Filters {
		filters = append(filters, nf(c))
	}
	enum := NewEnumerator(c, record, alloc, in.opts.Branches, filters...)

	out := &insn.Class{Name: c.Name, Interfaces: c.Interfaces, Methods: make([]*insn.Method, len(c.Methods))}
	for i, m := range c.Methods {
		e := enum.Enumerate(m)
		if e.Malformed != nil {
			in.opts.Reporter.Error(fmt.Sprintf("%s: branch coverage skipped for %s%s", c.Name, m.Name, m.Signature), e.Malformed)
		}
		out.Methods[i] = Inject(e)
	}

	record.IDCount = alloc.Count()
	if in.opts.Instructions {
		for _, l := range record.Lines() {
			l.Instructions = alloc.Instructions(l.ID)
		}
	}

	// Re-instrumenting keeps the hits already collected for the class,
	// including counts the previous counter array has not handed over yet.
	if old := in.project.Class(c.Name); old != nil {
		if in.opts.Registry != nil {
			if rec, ok := in.opts.Registry.Lookup(c.Name); ok {
				old.ApplyHits(rec.Snapshot())
				rec.Reset()
			}
		}
		record.Merge(old)
	}
	in.project.AddClass(record)
	if in.opts.Registry != nil {
		in.opts.Registry.Register(c.Name, record.IDCount)
	}
	return out, record
}

// InstrumentAll rewrites classes concurrently, bounded by Options.Workers.
// The result is in input order.
func (in *Instrumenter) InstrumentAll(ctx context.Context, classes []*insn.Class) ([]*insn.Class, error) {
	out := make([]*insn.Class, len(classes))
	g, ctx := errgroup.WithContext(ctx)
	if in.opts.Workers > 0 {
		g.SetLimit(in.opts.Workers)
	}
	for i, c := range classes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i], _ = in.InstrumentClass(c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("instrument: %w", err)
	}
	return out, nil
}

// Collect drains the counter arrays of reg into the matching class records
// of p. When test is not empty, lines of test-tracking classes hit in this
// window remember it. Counters of classes p does not know are reported.
func Collect(p *coverage.Project, reg *probe.Registry, test string, rep diag.Reporter) {
	if rep == nil {
		rep = diag.Nop
	}
	reg.Drain(func(class string, hits []int64) {
		c := p.Class(class)
		if c == nil {
			rep.Error(fmt.Sprintf("counters for unknown class %s", class), nil)
			return
		}
		c.ApplyTestHits(hits, test)
	})
}
