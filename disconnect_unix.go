//go:build unix

package serial

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isDisconnectErrno matches the errno values a read returns once a USB
// serial adapter has been unplugged.
func isDisconnectErrno(err error) bool {
	for _, errno := range []unix.Errno{unix.EIO, unix.ENXIO, unix.ENODEV, unix.EPIPE, unix.EBADF} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
