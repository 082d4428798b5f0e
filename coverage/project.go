package coverage

import (
	"sort"
	"sync"
)

// Project maps class names to class records for one collection run or a
// merged result. Class registration may happen concurrently; everything
// else assumes exclusive ownership.
type Project struct {
	mu      sync.Mutex
	classes map[string]*Class
}

// NewProject creates an empty project.
func NewProject() *Project {
	return &Project{classes: make(map[string]*Class)}
}

// GetOrCreateClass returns the record for name, creating it with flags on
// first use.
func (p *Project) GetOrCreateClass(name string, flags Flags) *Class {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.classes[name]; ok {
		return c
	}
	c := NewClass(name, flags)
	p.classes[name] = c
	return c
}

// AddClass registers c, replacing any record with the same name.
func (p *Project) AddClass(c *Class) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.classes[c.Name] = c
}

// Class returns the record for name, or nil.
func (p *Project) Class(name string) *Class {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.classes[name]
}

// Len returns the number of classes.
func (p *Project) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.classes)
}

// Classes returns the class records sorted by name.
func (p *Project) Classes() []*Class {
	p.mu.Lock()
	out := make([]*Class, 0, len(p.classes))
	for _, c := range p.classes {
		out = append(out, c)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Merge adds every class of o into p. Classes only o has are copied.
func (p *Project) Merge(o *Project) {
	for _, oc := range o.Classes() {
		if c := p.Class(oc.Name); c != nil {
			c.Merge(oc)
		} else {
			p.AddClass(oc.Clone())
		}
	}
}

// FlushMasks folds the hits mask of every class into its lines.
func (p *Project) FlushMasks() {
	for _, c := range p.Classes() {
		c.FlushMask()
	}
}

// Equal reports whether two projects hold equal classes.
func (p *Project) Equal(o *Project) bool {
	a, b := p.Classes(), o.Classes()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Summary aggregates the counts of every class.
func (p *Project) Summary() Summary {
	var s Summary
	for _, c := range p.Classes() {
		s.Add(c.Summary())
	}
	return s
}
