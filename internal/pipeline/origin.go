package pipeline

import "context"

// Origin describes who asked for an analysis.
type Origin struct {
	Source    string
	RequestID string
}

type originKey struct{}

// WithOrigin attaches o to ctx.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom returns the origin attached to ctx. Source defaults to
// "unknown".
func OriginFrom(ctx context.Context) Origin {
	o, _ := ctx.Value(originKey{}).(Origin)
	if o.Source == "" {
		o.Source = "unknown"
	}
	return o
}
