//go:build !linux

package main

const SupportsSettingPriorities = false

func SetLowCpuPriority() error {
	return nil
}
