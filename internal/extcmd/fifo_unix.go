//go:build !windows

package extcmd

import "syscall"

// mkfifoImpl creates the command pipe with group-writable permissions so
// tooling running as the monitoring group can submit commands.
func mkfifoImpl(path string) error {
	return syscall.Mkfifo(path, 0660)
}
