package capture

import (
	"context"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// DisplayGrabber captures one physical display through the OS screen API.
type DisplayGrabber struct {
	Display int
}

func (g DisplayGrabber) Grab(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n := screenshot.NumActiveDisplays(); n <= g.Display {
		return nil, fmt.Errorf("%w: display %d not active (%d active)", ErrCaptureUnavailable, g.Display, n)
	}
	img, err := screenshot.CaptureDisplay(g.Display)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	return img, nil
}
