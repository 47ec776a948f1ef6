//go:build unix

package replace

import "golang.org/x/sys/unix"

var recoverableErrnos = []error{
	unix.EXDEV,
	unix.EPERM,
	unix.EACCES,
	unix.EBUSY,
	unix.ENOTEMPTY,
	unix.EEXIST,
}
