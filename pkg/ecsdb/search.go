package ecsdb

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
)

// SearchParam describes an ad-hoc search over the world by component name. Where is an optional
// expr-lang boolean expression evaluated against each entity's map; see
// https://expr-lang.org/docs/language-definition.
type SearchParam struct {
	Find  []string    // Component names to search for
	Match SearchMatch // How Find is matched against archetypes
	Where string      // Optional filter expression
	Limit int         // Maximum number of results, zero means unlimited
}

// SearchMatch is the type of match to use for the search.
type SearchMatch string

const (
	// MatchExact matches entities that have exactly the named components.
	MatchExact SearchMatch = "exact"
	// MatchContains matches entities that hold the named components and possibly others.
	MatchContains SearchMatch = "contains"
)

func (s *SearchParam) validateAndGetFilter() (*vm.Program, error) {
	if len(s.Find) == 0 {
		return nil, eris.New("component list cannot be empty")
	}
	if s.Match != MatchExact && s.Match != MatchContains {
		return nil, eris.Errorf("invalid `match` value: must be either '%s' or '%s'", MatchExact, MatchContains)
	}
	if s.Limit < 0 {
		return nil, eris.New("limit must not be negative")
	}
	if s.Where == "" {
		return nil, nil //nolint:nilnil // no filter
	}

	filter, err := expr.Compile(s.Where, expr.AsBool())
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse where clause")
	}
	return filter, nil
}

// Search returns one map per matching entity. Each map holds the entity's components keyed by
// their display name, plus "_id" (the entity index) and "_gen" (its generation).
func (w *World) Search(params SearchParam) ([]map[string]any, error) {
	filter, err := params.validateAndGetFilter()
	if err != nil {
		return nil, eris.Wrap(ErrInvalidSearch, err.Error())
	}

	find := bitmap.Bitmap{}
	for _, name := range params.Find {
		t, ok := TypeByName(name)
		if !ok {
			return nil, eris.Wrapf(ErrUnknownComponent, "component %s", name)
		}
		find.Set(t.index)
	}

	results := make([]map[string]any, 0)
	match := func(a *Archetype) bool { return archetypeMatches(a, find, params.Match) }
	for _, ref := range w.archetypeRefs() {
		for _, data := range w.snapshot(ref, match) {
			if filter != nil {
				ok, err := runFilter(filter, data)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
			}
			results = append(results, data)
			if params.Limit > 0 && len(results) == params.Limit {
				return results, nil
			}
		}
	}
	return results, nil
}

func archetypeMatches(a *Archetype, find bitmap.Bitmap, match SearchMatch) bool {
	switch match {
	case MatchExact:
		if a.schema.Len() != find.Count() {
			return false
		}
		fallthrough
	case MatchContains:
		intersect := find.Clone(nil)
		intersect.And(a.mask)
		return intersect.Count() == find.Count()
	}
	return false
}

func runFilter(filter *vm.Program, data map[string]any) (bool, error) {
	output, err := expr.Run(filter, data)
	if err != nil {
		return false, eris.Wrap(err, "failed to run filter expression")
	}
	// expr.AsBool can't check the result type at compile time when the expression reads struct
	// fields, since the environment is only known here.
	ok, isBool := output.(bool)
	if !isBool {
		return false, eris.Wrap(ErrInvalidSearch, "where clause does not evaluate to a bool")
	}
	return ok, nil
}

// snapshot copies every occupied row of an archetype accepted by match into entity maps, holding
// every column shared.
func (w *World) snapshot(ref archRef, match func(*Archetype) bool) []map[string]any {
	w.structure.Shared(w.yield)
	defer w.structure.SharedUnlock()

	var out []map[string]any
	if w.archetypes.IsDirty(ref.idx, ref.epoch) || !match(ref.arch) {
		return out
	}
	a := ref.arch

	cols := make([]int, a.schema.Len())
	for i := range cols {
		cols[i] = i
	}
	a.lockColumns(cols, false)
	defer a.unlockColumns(cols, false)

	visitRows(a, func(c *chunk, off uint32) bool {
		e := c.entities[off]
		data := make(map[string]any, len(cols)+2)
		data["_id"] = e.index
		data["_gen"] = e.gen
		for col, t := range a.schema.types {
			data[t.name] = t.value(a.pointer(c, col, off))
		}
		out = append(out, data)
		return true
	})
	return out
}

// archetypeRefs snapshots the live archetypes with their pool epochs.
func (w *World) archetypeRefs() []archRef {
	w.internMu.Lock()
	defer w.internMu.Unlock()
	refs := make([]archRef, 0, w.archetypes.Len())
	for idx, a := range w.archetypes.All() {
		refs = append(refs, archRef{arch: a, idx: idx, epoch: w.archetypes.Iteration(idx)})
	}
	return refs
}
