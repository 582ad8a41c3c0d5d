package util

import (
	"io"
	"log/slog"
)

// CloseFileFunc closes c and logs the error instead of returning it.
// Meant for defer on read paths where the close error carries no data.
func CloseFileFunc(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Warn("util.close", "err", err)
	}
}
