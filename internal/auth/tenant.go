package auth

import (
	"context"
	"errors"
	"strings"
)

// TenantHints are the request-derived identifiers that can lead to a tenant.
type TenantHints struct {
	TenantID    string
	TenantName  string
	CourseID    string
	LiveClassID string
	LessonID    string
	ModuleID    string
}

// Empty reports whether no hint is present.
func (h TenantHints) Empty() bool {
	return h == TenantHints{}
}

func (h TenantHints) trimmed() TenantHints {
	return TenantHints{
		TenantID:    strings.TrimSpace(h.TenantID),
		TenantName:  strings.TrimSpace(h.TenantName),
		CourseID:    strings.TrimSpace(h.CourseID),
		LiveClassID: strings.TrimSpace(h.LiveClassID),
		LessonID:    strings.TrimSpace(h.LessonID),
		ModuleID:    strings.TrimSpace(h.ModuleID),
	}
}

// TenantResolver infers the owning tenant from request hints.
type TenantResolver struct {
	lookup OwnershipLookup
}

// NewTenantResolver wraps an ownership lookup.
func NewTenantResolver(lookup OwnershipLookup) (*TenantResolver, error) {
	if lookup == nil {
		return nil, errors.New("auth: ownership lookup is required")
	}
	return &TenantResolver{lookup: lookup}, nil
}

// Resolve tries, in order: explicit tenant id, tenant name, course, live class,
// lesson, module. The first source that yields a tenant wins. ok is false when
// no source resolves.
func (r *TenantResolver) Resolve(ctx context.Context, hints TenantHints) (string, bool, error) {
	h := hints.trimmed()
	if h.TenantID != "" {
		return h.TenantID, true, nil
	}
	sources := []struct {
		value  string
		lookup func(context.Context, string) (string, error)
	}{
		{h.TenantName, r.lookup.TenantIDByName},
		{h.CourseID, r.lookup.TenantIDForCourse},
		{h.LiveClassID, r.lookup.TenantIDForLiveClass},
		{h.LessonID, r.lookup.TenantIDForLesson},
		{h.ModuleID, r.lookup.TenantIDForModule},
	}
	for _, src := range sources {
		if src.value == "" {
			continue
		}
		tenantID, err := src.lookup(ctx, src.value)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return "", false, err
		}
		if tenantID != "" {
			return tenantID, true, nil
		}
	}
	return "", false, nil
}
