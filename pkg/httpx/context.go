package httpx

import "context"

type ctxKey string

const (
	CtxKeyUserID ctxKey = "user_id"
	CtxKeyOrgID  ctxKey = "org_id"
	CtxKeyLevel  ctxKey = "level" // session security level from the acr claim
	CtxKeyClaims ctxKey = "claims"
)

// UserIDFromContext returns the authenticated user id, or "" if absent.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyUserID).(string); ok {
		return v
	}
	return ""
}

// OrgIDFromContext returns the session's organization id, or "" if absent.
func OrgIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyOrgID).(string); ok {
		return v
	}
	return ""
}

// LevelFromContext returns the session's acr level string, or "" if absent.
func LevelFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyLevel).(string); ok {
		return v
	}
	return ""
}
