package commit

import (
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// newVolumeLogger returns a zerolog.Logger tagged with a freshly generated
// mount_id, reused as the correlation id across every delta/rollup log
// line for this open volume. This replaces the original's bare trace(...)
// landmark strings with structured, per-mount-correlated events.
func newVolumeLogger(w io.Writer) (zerolog.Logger, uuid.UUID) {
	if w == nil {
		w = os.Stderr
	}

	mountID := uuid.New()

	logger := zerolog.New(w).With().
		Timestamp().
		Str("mount_id", mountID.String()).
		Logger()

	return logger, mountID
}
