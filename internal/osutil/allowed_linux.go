//go:build linux
// +build linux

// setuid/setgid don't work on Linux via Go because Linux has a nutty arrangement whereby each
// thread has its own uid/gid. A network daemon would normally setuid/setgid/chroot after opening
// privileged sockets; on Linux only the chroot part of that sequence is available to us.
//
// For more details see: https://github.com/golang/go/issues/1435

package osutil

const (
	setuidAllowed = false
	setgidAllowed = false
)
