package model

import "context"

// Origin tells hooks who initiated a write.
type Origin int

const (
	// Local writes come from application code or the publish layer.
	Local Origin = iota
	// SyncPull writes store rows received from the remote.
	SyncPull
	// SyncPushConfirm writes store the remote's response to a push.
	SyncPushConfirm
	// ConstraintRepair writes only fix foreign keys after a remap.
	ConstraintRepair
)

func (o Origin) String() string {
	switch o {
	case Local:
		return "local"
	case SyncPull:
		return "sync-pull"
	case SyncPushConfirm:
		return "sync-push-confirm"
	case ConstraintRepair:
		return "constraint-repair"
	default:
		return "unknown"
	}
}

type originKey struct{}

// WithOrigin returns a context whose writes carry origin o.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom returns the origin carried by ctx, Local when none.
func OriginFrom(ctx context.Context) Origin {
	if o, ok := ctx.Value(originKey{}).(Origin); ok {
		return o
	}
	return Local
}
