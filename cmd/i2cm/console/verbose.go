package console

import "context"

type ctxKey int

const verboseKey ctxKey = iota

// SetVerbose marks the context so transports may dump their wire
// traffic.
func SetVerbose(parent context.Context, on bool) context.Context {
	return context.WithValue(parent, verboseKey, on)
}

func IsVerbose(ctx context.Context) bool {
	on, _ := ctx.Value(verboseKey).(bool)
	return on
}
