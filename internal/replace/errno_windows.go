//go:build windows

package replace

import "golang.org/x/sys/windows"

var recoverableErrnos = []error{
	windows.ERROR_NOT_SAME_DEVICE,
	windows.ERROR_ACCESS_DENIED,
	windows.ERROR_SHARING_VIOLATION,
	windows.ERROR_LOCK_VIOLATION,
	windows.ERROR_DIR_NOT_EMPTY,
	windows.ERROR_ALREADY_EXISTS,
}
