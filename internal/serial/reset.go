package serial

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// toggleReset drops and reasserts the DTR line so an attached microcontroller
// restarts cleanly and begins sending from the top of its loop. Every step is
// best-effort: not all adapters expose modem control lines, and a failed
// toggle never blocks connecting.
func toggleReset(device string) error {
	f, err := os.OpenFile(device, os.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	fd := int(f.Fd())

	if err := unix.IoctlSetPointerInt(fd, unix.TIOCMBIC, unix.TIOCM_DTR); err != nil {
		return err
	}
	time.Sleep(200 * time.Millisecond)

	// Drop whatever the device sent before the reset.
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH); err != nil {
		return err
	}

	return unix.IoctlSetPointerInt(fd, unix.TIOCMBIS, unix.TIOCM_DTR)
}
