// Package policy holds the catalog of resource classes and turns resource
// descriptors into canonical lock keys.
package policy

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/pixperk/stompguard/pkg/types"
)

// Registry is immutable after New returns and safe for concurrent use.
type Registry struct {
	classes map[types.ClassID]types.ResourceClass
}

// New builds a registry from the built-in defaults overlaid with cfg.
// Every class is validated here so that bad modes or strategies fail at
// startup rather than at call time.
func New(cfg Config) (*Registry, error) {
	classes := make(map[types.ClassID]types.ResourceClass)
	for _, class := range Defaults() {
		classes[class.ID] = class
	}

	for rawID, override := range cfg.Classes {
		id := canonicalID(types.ClassID(rawID))
		class, ok := classes[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", types.ErrUnknownResourceClass, rawID)
		}

		updated, err := override.apply(class)
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", id, err)
		}
		classes[id] = updated
	}

	for _, class := range classes {
		if err := class.Validate(); err != nil {
			return nil, err
		}
	}

	return &Registry{classes: classes}, nil
}

// Default returns a registry with only the built-in classes.
func Default() *Registry {
	r, err := New(Config{})
	if err != nil {
		panic(fmt.Sprintf("policy: built-in classes are invalid: %v", err))
	}
	return r
}

func canonicalID(id types.ClassID) types.ClassID {
	if target, ok := aliases[id]; ok {
		return target
	}
	return id
}

// Resolve returns the class registered under id.
func (r *Registry) Resolve(id types.ClassID) (types.ResourceClass, error) {
	class, ok := r.classes[canonicalID(id)]
	if !ok {
		return types.ResourceClass{}, fmt.Errorf("%w: %q", types.ErrUnknownResourceClass, id)
	}
	return class, nil
}

// ComputeKey turns a descriptor into its canonical key. Identical
// descriptors always produce identical keys and every key carries its class
// prefix, so keys of different classes never collide.
func (r *Registry) ComputeKey(d types.ResourceDescriptor) (string, error) {
	key, _, err := r.ResolveDescriptor(d)
	return key, err
}

// ResolveDescriptor resolves both the key and the class of d.
func (r *Registry) ResolveDescriptor(d types.ResourceDescriptor) (string, types.ResourceClass, error) {
	class, err := r.Resolve(d.Class)
	if err != nil {
		return "", types.ResourceClass{}, err
	}

	scope, err := canonicalScope(class, d.Scope)
	if err != nil {
		return "", types.ResourceClass{}, err
	}

	return class.KeyPrefix + ":" + scope, class, nil
}

func canonicalScope(class types.ResourceClass, scope string) (string, error) {
	if strings.TrimSpace(scope) == "" {
		return "", fmt.Errorf("%w: empty scope for class %s", types.ErrInvalidDescriptor, class.ID)
	}

	// the same path may arrive composed or decomposed depending on the agent
	scope = norm.NFC.String(scope)

	if class.ID == types.ClassFileMutex {
		if !filepath.IsAbs(scope) {
			return "", fmt.Errorf("%w: file scope %q must be an absolute path", types.ErrInvalidDescriptor, scope)
		}
		scope = filepath.ToSlash(filepath.Clean(scope))
	}

	return scope, nil
}

// MaxWait returns the wait ceiling for class under the caller's mode.
// Unknown modes get the interactive ceiling.
func (r *Registry) MaxWait(class types.ResourceClass, mode types.WaitMode) time.Duration {
	if mode == types.Batch {
		return class.BatchMaxWait
	}
	return class.InteractiveMaxWait
}

// Classes returns every registered class sorted by id.
func (r *Registry) Classes() []types.ResourceClass {
	out := make([]types.ResourceClass, 0, len(r.classes))
	for _, class := range r.classes {
		out = append(out, class)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
