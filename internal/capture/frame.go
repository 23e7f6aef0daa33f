package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"time"
)

// ErrCaptureUnavailable reports that the display could not be read
// (no interactive session, locked workstation, headless host).
var ErrCaptureUnavailable = errors.New("capture unavailable")

const UnknownApp = "unknown"

// Frame is one downsized, JPEG-compressed snapshot of the display together
// with the foreground application observed at the same instant.
type Frame struct {
	CapturedAt    time.Time
	Image         image.Image
	JPEG          []byte
	ForegroundApp string
}

func (f Frame) Size() (int, int) {
	if f.Image == nil {
		return 0, 0
	}
	b := f.Image.Bounds()
	return b.Dx(), b.Dy()
}

type Source interface {
	Capture(ctx context.Context) (Frame, error)
	Foreground(ctx context.Context) (string, error)
}

// Grabber reads the raw display raster.
type Grabber interface {
	Grab(ctx context.Context) (image.Image, error)
}

// ForegroundReader resolves the executable/class name of the focused window.
type ForegroundReader interface {
	ForegroundApp(ctx context.Context) (string, error)
}

type ScreenSource struct {
	logger     *slog.Logger
	grabber    Grabber
	foreground ForegroundReader
	maxWidth   int
	quality    int
	now        func() time.Time
}

func NewScreenSource(grabber Grabber, foreground ForegroundReader, maxWidth, quality int, logger *slog.Logger) *ScreenSource {
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &ScreenSource{
		logger:     logger,
		grabber:    grabber,
		foreground: foreground,
		maxWidth:   maxWidth,
		quality:    quality,
		now:        time.Now,
	}
}

func (s *ScreenSource) Foreground(ctx context.Context) (string, error) {
	app, err := s.foreground.ForegroundApp(ctx)
	if err != nil {
		return UnknownApp, err
	}
	if app == "" {
		return UnknownApp, nil
	}
	return app, nil
}

func (s *ScreenSource) Capture(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	at := s.now().UTC()
	raw, err := s.grabber.Grab(ctx)
	if err != nil {
		return Frame{}, err
	}
	app, err := s.Foreground(ctx)
	if err != nil {
		s.logger.Debug("foreground app lookup failed", "error", err)
	}

	img := Downsize(raw, s.maxWidth)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return Frame{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return Frame{
		CapturedAt:    at,
		Image:         img,
		JPEG:          buf.Bytes(),
		ForegroundApp: app,
	}, nil
}
