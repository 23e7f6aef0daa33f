package capture

import (
	"bytes"
	"strings"
)

// wmClassName picks the instance part of an X11 WM_CLASS value
// ("instance\x00class\x00"), falling back to the class part.
func wmClassName(v []byte) string {
	parts := bytes.Split(bytes.TrimRight(v, "\x00"), []byte{0})
	for _, p := range parts {
		if s := strings.TrimSpace(string(p)); s != "" {
			return s
		}
	}
	return UnknownApp
}
