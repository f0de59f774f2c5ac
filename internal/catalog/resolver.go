package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/hr-platform/backend/internal/llm"
	"github.com/hr-platform/backend/internal/storage/sqldb"
)

// Lookup is the read side of the shared reference tables.
type Lookup interface {
	ReferenceExists(ctx context.Context, kind sqldb.RefKind, id int64) (bool, error)
	FindReferenceByName(ctx context.Context, kind sqldb.RefKind, name string) (int64, bool, error)
	SubRoleParent(ctx context.Context, subRoleID int64) (int64, bool, error)
	FindSubRoleByName(ctx context.Context, roleID int64, name string) (int64, bool, error)
	ListReferences(ctx context.Context, kind sqldb.RefKind, limit int) ([]sqldb.RefItem, error)
}

// Resolver maps ids and canonical names returned by the model onto catalog
// primary keys. It never creates reference rows. Answers are memoised; the
// catalog is read-mostly, call Reset after reseeding.
type Resolver struct {
	lookup Lookup

	mu    sync.RWMutex
	cache map[string]resolution
}

type resolution struct {
	id int64
	ok bool
}

const maxCacheEntries = 10000

func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup, cache: make(map[string]resolution)}
}

func (r *Resolver) Reset() {
	r.mu.Lock()
	r.cache = make(map[string]resolution)
	r.mu.Unlock()
}

func (r *Resolver) cached(key string, fn func() (int64, bool, error)) (int64, bool, error) {
	r.mu.RLock()
	res, hit := r.cache[key]
	r.mu.RUnlock()
	if hit {
		return res.id, res.ok, nil
	}

	id, ok, err := fn()
	if err != nil {
		return 0, false, err
	}

	r.mu.Lock()
	if len(r.cache) >= maxCacheEntries {
		r.cache = make(map[string]resolution)
	}
	r.cache[key] = resolution{id: id, ok: ok}
	r.mu.Unlock()
	return id, ok, nil
}

func (r *Resolver) byID(ctx context.Context, kind sqldb.RefKind, id int64) (int64, bool, error) {
	return r.cached(string(kind)+"#"+strconv.FormatInt(id, 10), func() (int64, bool, error) {
		ok, err := r.lookup.ReferenceExists(ctx, kind, id)
		return id, ok, err
	})
}

func (r *Resolver) byName(ctx context.Context, kind sqldb.RefKind, name string) (int64, bool, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return 0, false, nil
	}
	return r.cached(string(kind)+"@"+name, func() (int64, bool, error) {
		return r.lookup.FindReferenceByName(ctx, kind, name)
	})
}

// resolve tries the id first and falls back to the name.
func (r *Resolver) resolve(ctx context.Context, kind sqldb.RefKind, id *int64, name string) (int64, bool, error) {
	if id != nil && *id > 0 {
		got, ok, err := r.byID(ctx, kind, *id)
		if err != nil || ok {
			return got, ok, err
		}
	}
	return r.byName(ctx, kind, name)
}

// Skill resolves by id only; skill names are never matched.
func (r *Resolver) Skill(ctx context.Context, id *int64) (int64, bool, error) {
	if id == nil || *id <= 0 {
		return 0, false, nil
	}
	return r.byID(ctx, sqldb.RefSkill, *id)
}

func (r *Resolver) Language(ctx context.Context, id *int64, name string) (int64, bool, error) {
	return r.resolve(ctx, sqldb.RefLanguage, id, name)
}

func (r *Resolver) SoftSkill(ctx context.Context, id *int64, name string) (int64, bool, error) {
	return r.resolve(ctx, sqldb.RefSoftSkill, id, name)
}

func (r *Resolver) Certification(ctx context.Context, id *int64, name string) (int64, bool, error) {
	return r.resolve(ctx, sqldb.RefCertification, id, name)
}

func (r *Resolver) Degree(ctx context.Context, id *int64, name string) (int64, bool, error) {
	return r.resolve(ctx, sqldb.RefDegree, id, name)
}

// RoleMatch is a resolved role assignment. SubRoleMissed is set when the
// model named a sub-role that does not exist under the role.
type RoleMatch struct {
	RoleID        int64
	SubRoleID     *int64
	SubRoleMissed bool
}

// Role resolves the role and, when given, a sub-role belonging to it.
func (r *Resolver) Role(ctx context.Context, roleID *int64, roleName string, subRoleID *int64, subRoleName string) (*RoleMatch, error) {
	id, ok, err := r.resolve(ctx, sqldb.RefRole, roleID, roleName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	match := &RoleMatch{RoleID: id}
	switch {
	case subRoleID != nil && *subRoleID > 0:
		parent, found, err := r.lookup.SubRoleParent(ctx, *subRoleID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve sub role: %w", err)
		}
		if found && parent == id {
			sub := *subRoleID
			match.SubRoleID = &sub
		} else {
			match.SubRoleMissed = true
		}
	case strings.TrimSpace(subRoleName) != "":
		sub, found, err := r.lookup.FindSubRoleByName(ctx, id, subRoleName)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve sub role: %w", err)
		}
		if found {
			match.SubRoleID = &sub
		} else {
			match.SubRoleMissed = true
		}
	}
	return match, nil
}

// Hints returns the skill and role catalogs offered to the model.
func (r *Resolver) Hints(ctx context.Context, limit int) (llm.CatalogHints, error) {
	var hints llm.CatalogHints

	skills, err := r.lookup.ListReferences(ctx, sqldb.RefSkill, limit)
	if err != nil {
		return hints, err
	}
	for _, s := range skills {
		hints.Skills = append(hints.Skills, llm.CatalogEntry{ID: s.ID, Name: s.Name})
	}

	roles, err := r.lookup.ListReferences(ctx, sqldb.RefRole, limit)
	if err != nil {
		return hints, err
	}
	for _, ro := range roles {
		hints.Roles = append(hints.Roles, llm.CatalogEntry{ID: ro.ID, Name: ro.Name})
	}
	return hints, nil
}
