package runner

import "context"

type vuKey struct{}

// VUInfo identifies the virtual user and iteration executing a request.
type VUInfo struct {
	ID        int
	Iteration int64
}

func withVU(ctx context.Context, info VUInfo) context.Context {
	return context.WithValue(ctx, vuKey{}, info)
}

// VUFromContext returns the VU executing the iteration bound to ctx.
func VUFromContext(ctx context.Context) (VUInfo, bool) {
	info, ok := ctx.Value(vuKey{}).(VUInfo)
	return info, ok
}
