package viewer

import (
	"image"
	"time"

	"github.com/desknet/tilecast/internal/logging"
)

// Presentation is the viewer's windowing/drawing surface, an external
// collaborator per spec.md §1: it is notified after every buffer mutation
// with the updated buffer and the regions that changed (empty for a
// keyframe, which implicitly changes everything), and after every frame
// with the measured round-trip latency between capture and receipt.
type Presentation interface {
	Present(buf *image.RGBA, changed []image.Rectangle)
	ObserveLatency(d time.Duration)
}

// NoopPresentation discards frames, logging only how much changed. It is
// the default wired into the launcher: an actual windowing surface is
// platform-specific and lives outside this module's scope.
type NoopPresentation struct{}

// Present logs the update and does nothing else.
func (NoopPresentation) Present(buf *image.RGBA, changed []image.Rectangle) {
	if buf == nil {
		return
	}
	if len(changed) == 0 {
		logging.Debug("viewer: presented full frame %dx%d [no-op surface]", buf.Bounds().Dx(), buf.Bounds().Dy())
		return
	}
	logging.Debug("viewer: presented %d changed region(s) [no-op surface]", len(changed))
}

// ObserveLatency logs the measured capture-to-receipt latency. A real
// surface would show this the way client_ui's status bar does.
func (NoopPresentation) ObserveLatency(d time.Duration) {
	logging.Debug("viewer: latency %s [no-op surface]", d)
}
