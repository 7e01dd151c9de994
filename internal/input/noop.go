package input

import "github.com/desknet/tilecast/internal/logging"

// NoopSynthesizer logs every requested action without touching the host's
// pointer or keyboard. It is the default wired into the launcher: actual
// desktop-I/O synthesis is platform-specific and lives outside this
// module's scope.
type NoopSynthesizer struct{}

// MoveTo logs the requested pointer move.
func (NoopSynthesizer) MoveTo(x, y int) error {
	logging.Debug("input: mouse_move (%d,%d) [no-op]", x, y)
	return nil
}

// Click logs the requested click.
func (NoopSynthesizer) Click(x, y int) error {
	logging.Debug("input: mouse_click (%d,%d) [no-op]", x, y)
	return nil
}

// KeyPress logs the requested key press.
func (NoopSynthesizer) KeyPress(key string) error {
	logging.Debug("input: key_press %q [no-op]", key)
	return nil
}
