package e2e

import "sync"

// Registry owns every registered Profile for the life of the process.
// Lookups return non-owning references; registration of a duplicate id
// or name fails rather than replacing the existing entry. Follows a
// register-by-name-at-startup, look-up-thereafter pattern, extended
// with a second numeric-id index since the wire format references
// profiles by id, not name.
type Registry struct {
	mu     sync.RWMutex
	byID   map[uint32]Profile
	byName map[string]Profile
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[uint32]Profile),
		byName: make(map[string]Profile),
	}
}

// Register adds p to the registry. Fails if p's id or name is already
// taken.
func (r *Registry) Register(p Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[p.ID()]; ok {
		return ErrDuplicateProfile
	}
	if _, ok := r.byName[p.Name()]; ok {
		return ErrDuplicateProfile
	}
	r.byID[p.ID()] = p
	r.byName[p.Name()] = p
	return nil
}

func (r *Registry) LookupByID(id uint32) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, ErrNotInitialized
	}
	return p, nil
}

func (r *Registry) LookupByName(name string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	if !ok {
		return nil, ErrNotInitialized
	}
	return p, nil
}

// ReferenceProfileID and ReferenceProfileName identify the reference
// profile shipped with this module: a profile built entirely from
// public CRC standards, with no vendor-specific algorithm.
const (
	ReferenceProfileID   uint32 = 0x01
	ReferenceProfileName        = "reference"
)

// defaultRegistry is the process-wide registry instance, initialized
// once at process startup (typically by calling UseDefault) and
// treated as read-only thereafter.
var defaultRegistry = NewRegistry()

// UseDefault registers the reference profile into the default registry.
// Safe to call once during initialization; a second call returns
// ErrDuplicateProfile.
func UseDefault() error {
	return defaultRegistry.Register(NewReferenceProfile())
}

// Register adds p to the default registry.
func Register(p Profile) error { return defaultRegistry.Register(p) }

// LookupByID resolves a profile from the default registry.
func LookupByID(id uint32) (Profile, error) { return defaultRegistry.LookupByID(id) }

// LookupByName resolves a profile from the default registry.
func LookupByName(name string) (Profile, error) { return defaultRegistry.LookupByName(name) }

// Default returns the reference profile from the default registry,
// registering it first if needed.
func Default() Profile {
	p, err := defaultRegistry.LookupByID(ReferenceProfileID)
	if err == nil {
		return p
	}
	ref := NewReferenceProfile()
	_ = defaultRegistry.Register(ref)
	return ref
}
