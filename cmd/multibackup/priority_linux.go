//go:build linux

package main

import (
	"syscall"
)

const SupportsSettingPriorities = true

// backups shouldn't starve the services running on the same box
func SetLowCpuPriority() error {
	// pid 0 means self
	return syscall.Setpriority(syscall.PRIO_PROCESS, 0, 19)
}
