package auth

import "context"

type contextKey struct{}

// Context carries the authenticated member through a request. The role flags
// here are a convenience snapshot from the middleware's fresh member load;
// authorization decisions in the core re-load the member record themselves.
type Context struct {
	MemberID      int64
	FamilyID      int64
	IsAdmin       bool
	IsResponsible bool
	SessionID     int64
}

func WithMember(ctx context.Context, ac Context) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (Context, bool) {
	ac, ok := ctx.Value(contextKey{}).(Context)
	return ac, ok
}

func MemberID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.MemberID
}

func FamilyID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.FamilyID
}

func IsAdmin(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.IsAdmin
}
