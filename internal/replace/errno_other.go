//go:build !unix && !windows

package replace

var recoverableErrnos []error
