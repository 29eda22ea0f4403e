package host

import "context"

type elevatedKey struct{}

// Elevated returns a context that authorizes the next repository call with
// the gateway's machine credentials instead of the caller's session. Webhook
// deliveries run outside any user request, so every status-mutating write on
// that path is wrapped individually; wrapping a whole multi-step sequence
// would hide which writes actually need the elevated scope.
func Elevated(ctx context.Context) context.Context {
	return context.WithValue(ctx, elevatedKey{}, true)
}

// IsElevated reports whether the context carries the elevated scope.
func IsElevated(ctx context.Context) bool {
	v, _ := ctx.Value(elevatedKey{}).(bool)
	return v
}
