// Package authz evaluates per-step permissions. Grants are data-driven: a
// role holds a capability at a step only when a step_role_assignments row
// says so. Everything else is denied.
package authz

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oryxworks/flowcore/model"
)

// GrantSource supplies the role grants configured for a step.
type GrantSource interface {
	RoleAssignments(ctx context.Context, stepID string) ([]model.StepRoleAssignment, error)
}

type cacheEntry struct {
	grants  []model.StepRoleAssignment
	expires time.Time
}

// Evaluator decides whether an actor holds a capability at a workflow step.
// Grants are cached per step for the configured TTL.
type Evaluator struct {
	source GrantSource
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewEvaluator creates an Evaluator over the given grant source.
func NewEvaluator(source GrantSource, ttl time.Duration) *Evaluator {
	return &Evaluator{
		source: source,
		ttl:    ttl,
		cache:  make(map[string]cacheEntry),
	}
}

func (e *Evaluator) grants(ctx context.Context, stepID string) ([]model.StepRoleAssignment, error) {
	e.mu.RLock()
	if entry, ok := e.cache[stepID]; ok && time.Now().Before(entry.expires) {
		e.mu.RUnlock()
		return entry.grants, nil
	}
	e.mu.RUnlock()

	grants, err := e.source.RoleAssignments(ctx, stepID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[stepID] = cacheEntry{grants: grants, expires: time.Now().Add(e.ttl)}
	e.mu.Unlock()

	return grants, nil
}

// Allowed reports whether the actor holds the capability at the step. Role
// names compare case-insensitively. An actor with no matching grant row is
// denied.
func (e *Evaluator) Allowed(ctx context.Context, rc model.RequestContext, step model.TemplateStep, cap model.Capability) (bool, error) {
	// Steps with no approval gate advance without a role check.
	if step.AutoTransition() && cap == model.CapabilityApprove {
		return true, nil
	}

	grants, err := e.grants(ctx, step.ID)
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		if !g.Grants(cap) {
			continue
		}
		for _, role := range rc.Roles {
			if strings.EqualFold(role, g.Role) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Require returns a FORBIDDEN error unless the actor holds the capability at
// the step.
func (e *Evaluator) Require(ctx context.Context, rc model.RequestContext, step model.TemplateStep, cap model.Capability) error {
	ok, err := e.Allowed(ctx, rc, step, cap)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewForbiddenError(
			"You do not have permission to " + string(cap) + " at step " + step.Name,
		)
	}
	return nil
}

// Invalidate clears cached grants for a step after its configuration changes.
func (e *Evaluator) Invalidate(stepID string) {
	e.mu.Lock()
	delete(e.cache, stepID)
	e.mu.Unlock()
}
