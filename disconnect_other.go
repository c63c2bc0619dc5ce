//go:build !unix

package serial

func isDisconnectErrno(error) bool {
	return false
}
