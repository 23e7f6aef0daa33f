//go:build !linux && !windows

package capture

import "context"

type noForeground struct{}

func NewForegroundReader() ForegroundReader {
	return noForeground{}
}

func (noForeground) ForegroundApp(ctx context.Context) (string, error) {
	return UnknownApp, ctx.Err()
}
