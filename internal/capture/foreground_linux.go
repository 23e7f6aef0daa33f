//go:build linux

package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

type x11Foreground struct {
	mu         sync.Mutex
	conn       *xgb.Conn
	root       xproto.Window
	activeAtom xproto.Atom
}

func NewForegroundReader() ForegroundReader {
	return &x11Foreground{}
}

func (f *x11Foreground) ForegroundApp(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return UnknownApp, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureConnLocked(); err != nil {
		return UnknownApp, err
	}

	active, err := xproto.GetProperty(f.conn, false, f.root, f.activeAtom, xproto.AtomWindow, 0, 1).Reply()
	if err != nil {
		f.closeLocked()
		return UnknownApp, fmt.Errorf("read _NET_ACTIVE_WINDOW: %w", err)
	}
	if active == nil || len(active.Value) < 4 {
		return UnknownApp, nil
	}
	win := xproto.Window(xgb.Get32(active.Value))
	if win == 0 {
		return UnknownApp, nil
	}

	class, err := xproto.GetProperty(f.conn, false, win, xproto.AtomWmClass, xproto.AtomString, 0, 256).Reply()
	if err != nil {
		return UnknownApp, fmt.Errorf("read WM_CLASS of window %d: %w", win, err)
	}
	if class == nil {
		return UnknownApp, nil
	}
	return wmClassName(class.Value), nil
}

func (f *x11Foreground) ensureConnLocked() error {
	if f.conn != nil {
		return nil
	}
	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("x11 connect: %w", err)
	}
	const name = "_NET_ACTIVE_WINDOW"
	atom, err := xproto.InternAtom(conn, true, uint16(len(name)), name).Reply()
	if err != nil {
		conn.Close()
		return fmt.Errorf("intern %s: %w", name, err)
	}
	f.conn = conn
	f.root = xproto.Setup(conn).DefaultScreen(conn).Root
	f.activeAtom = atom.Atom
	return nil
}

func (f *x11Foreground) closeLocked() {
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}
