package serial

import (
	"context"
	"io"
	"time"

	"github.com/go-logr/logr"
)

// Monitor copies the board's console output to w until ctx is cancelled.
// It holds the port claim for its whole lifetime.
func Monitor(ctx context.Context, opener Opener, lock *PortLock, device string, baud int, w io.Writer, log logr.Logger) error {
	conn, err := Dial(ctx, opener, lock, device, baud, 3, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Info("Monitoring serial port", "port", device, "baud", baud)
	return copyUntilDone(ctx, conn, w)
}

// copyUntilDone reads with a short timeout so cancellation is noticed promptly
func copyUntilDone(ctx context.Context, port Port, w io.Writer) error {
	if err := port.SetReadTimeout(200 * time.Millisecond); err != nil {
		return err
	}
	buf := make([]byte, 1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := port.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil && err != io.EOF {
			return err
		}
	}
}
