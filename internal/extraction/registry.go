package extraction

import (
	"sort"
	"strings"
	"sync"

	"erpmigrate/internal/adapter"
	"erpmigrate/pkg/errors"
)

// Registry maps extractor ids to descriptors. It is filled at startup and read-only
// afterwards.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*Descriptor
}

func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]*Descriptor)}
}

// DefaultRegistry holds the built-in catalog for every supported source system.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(lnCatalog()...)
	r.MustRegister(sapCatalog()...)
	r.MustRegister(m3Catalog()...)
	r.MustRegister(csiCatalog()...)
	r.MustRegister(lawsonCatalog()...)
	return r
}

func (r *Registry) Register(d Descriptor) error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.ErrConfiguration.New("extractor id is required")
	}
	if d.SourceSystem == "" {
		return errors.ErrConfiguration.Newf("extractor %s must declare a source system", d.ID).WithDetail("extractorId", d.ID)
	}
	if d.Module == "" {
		return errors.ErrConfiguration.Newf("extractor %s must declare a module", d.ID).WithDetail("extractorId", d.ID)
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	seen := make(map[string]struct{}, len(d.Tables))
	for _, t := range d.Tables {
		if t.Name == "" {
			return errors.ErrConfiguration.Newf("extractor %s declares a table without a name", d.ID).WithDetail("extractorId", d.ID)
		}
		if _, dup := seen[t.Name]; dup {
			return errors.ErrConfiguration.Newf("extractor %s declares table %s twice", d.ID, t.Name).
				WithDetail("extractorId", d.ID).
				WithDetail("table", t.Name)
		}
		seen[t.Name] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.descriptors[d.ID]; ok {
		return errors.ErrConfiguration.Newf("extractor %s is already registered", d.ID).WithDetail("extractorId", d.ID)
	}
	r.descriptors[d.ID] = &d
	return nil
}

// MustRegister panics on the first invalid descriptor. For static catalogs only.
func (r *Registry) MustRegister(ds ...Descriptor) {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Get(id string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[id]
	return d, ok
}

// List returns every descriptor ordered by id.
func (r *Registry) List() []*Descriptor {
	return r.filter(func(*Descriptor) bool { return true })
}

func (r *Registry) ListByCategory(c Category) []*Descriptor {
	return r.filter(func(d *Descriptor) bool { return d.Category == c })
}

func (r *Registry) ListByModule(module string) []*Descriptor {
	return r.filter(func(d *Descriptor) bool { return strings.EqualFold(d.Module, module) })
}

func (r *Registry) ListBySourceSystem(system adapter.SourceSystem) []*Descriptor {
	return r.filter(func(d *Descriptor) bool { return d.SourceSystem == system })
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

func (r *Registry) filter(keep func(*Descriptor) bool) []*Descriptor {
	r.mu.RLock()
	out := make([]*Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		if keep(d) {
			out = append(out, d)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
