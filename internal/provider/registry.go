package provider

import (
	"fmt"
	"sort"
	"strings"

	"github.com/remiblancher/tsa-verifier/providers"
)

// Registry resolves provider names to profiles. It is built once and is
// safe for concurrent use because it is never modified afterwards.
type Registry struct {
	profiles map[string]*Profile // by normalized name
	aliases  map[string]string   // normalized alias -> normalized name
	names    []string
}

// NewRegistry builds a registry. Names and aliases are matched
// case-insensitively and must be unique.
func NewRegistry(profiles ...*Profile) (*Registry, error) {
	r := &Registry{
		profiles: make(map[string]*Profile, len(profiles)),
		aliases:  make(map[string]string),
	}
	for _, p := range profiles {
		key := normalize(p.Name)
		if _, dup := r.profiles[key]; dup {
			return nil, &ProfileError{Provider: p.Name, Field: "name", Err: fmt.Errorf("duplicate provider")}
		}
		r.profiles[key] = p
		r.names = append(r.names, p.Name)
	}
	for _, p := range profiles {
		for _, a := range p.Aliases {
			alias := normalize(a)
			if _, clash := r.profiles[alias]; clash {
				return nil, &ProfileError{Provider: p.Name, Field: "aliases", Err: fmt.Errorf("alias %q is a provider name", a)}
			}
			if owner, dup := r.aliases[alias]; dup && owner != normalize(p.Name) {
				return nil, &ProfileError{Provider: p.Name, Field: "aliases", Err: fmt.Errorf("alias %q already used by %s", a, owner)}
			}
			r.aliases[alias] = normalize(p.Name)
		}
	}
	sort.Strings(r.names)
	return r, nil
}

// LoadBuiltin returns the registry of the embedded provider table.
func LoadBuiltin() (*Registry, error) {
	data, err := providers.FS.ReadFile(providers.Builtin)
	if err != nil {
		return nil, fmt.Errorf("failed to read built-in providers: %w", err)
	}
	profiles, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("built-in providers: %w", err)
	}
	return NewRegistry(profiles...)
}

// Overlay returns a new registry holding r's profiles plus extra. An extra
// profile with the name of an existing one replaces it, aliases included.
func (r *Registry) Overlay(extra ...*Profile) (*Registry, error) {
	replaced := make(map[string]bool, len(extra))
	for _, p := range extra {
		replaced[normalize(p.Name)] = true
	}
	merged := make([]*Profile, 0, len(r.profiles)+len(extra))
	for _, name := range r.names {
		if key := normalize(name); !replaced[key] {
			merged = append(merged, r.profiles[key])
		}
	}
	merged = append(merged, extra...)
	return NewRegistry(merged...)
}

// Resolve returns the profile for name or one of its aliases. It never
// falls back to another provider.
func (r *Registry) Resolve(name string) (*Profile, error) {
	key := normalize(name)
	if p, ok := r.profiles[key]; ok {
		return p, nil
	}
	if target, ok := r.aliases[key]; ok {
		return r.profiles[target], nil
	}
	return nil, &UnknownProviderError{Name: name, Known: r.Names()}
}

// Names returns the provider names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Profiles returns the profiles sorted by name.
func (r *Registry) Profiles() []*Profile {
	out := make([]*Profile, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.profiles[normalize(name)])
	}
	return out
}

// Len returns the number of providers.
func (r *Registry) Len() int { return len(r.names) }

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
