package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RequestContext carries identity, tenancy, and tracing information for the
// lifetime of a request. Identity is resolved by an upstream gateway (or the
// optional JWT authenticator); this core never sees credentials. It is
// immutable after construction and safe for concurrent reads.
type RequestContext struct {
	UserID         string
	Email          string
	OrganizationID string
	Roles          []string
	CorrelationID  string
	TraceID        string
	SpanID         string
}

// Validate checks that all mandatory fields are present.
// UserID and OrganizationID must be non-empty.
func (rc *RequestContext) Validate() error {
	var errs []error
	if rc.UserID == "" {
		errs = append(errs, fmt.Errorf("UserID is required"))
	}
	if rc.OrganizationID == "" {
		errs = append(errs, fmt.Errorf("OrganizationID is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HasRole returns true if the RequestContext contains the given role.
// Role names compare case-insensitively.
func (rc *RequestContext) HasRole(role string) bool {
	for _, r := range rc.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns
// nil if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext extracts the RequestContext from the context, panicking
// if it is not present. Safe to call in handlers that run behind the identity
// middleware.
func MustRequestContext(ctx context.Context) *RequestContext {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		panic("model: RequestContext not found in context")
	}
	return rctx
}
