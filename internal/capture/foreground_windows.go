//go:build windows

package capture

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sys/windows"
)

type windowsForeground struct{}

func NewForegroundReader() ForegroundReader {
	return windowsForeground{}
}

func (windowsForeground) ForegroundApp(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return UnknownApp, err
	}
	hwnd := windows.GetForegroundWindow()
	if hwnd == 0 {
		return UnknownApp, nil
	}
	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err != nil {
		return UnknownApp, fmt.Errorf("foreground window pid: %w", err)
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return UnknownApp, fmt.Errorf("open process %d: %w", pid, err)
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return UnknownApp, fmt.Errorf("process image name %d: %w", pid, err)
	}
	return filepath.Base(windows.UTF16ToString(buf[:size])), nil
}
