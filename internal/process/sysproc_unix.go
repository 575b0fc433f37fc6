//go:build !windows

package process

import "syscall"

// detachedAttr puts the child in its own session so it outlives the terminal.
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
