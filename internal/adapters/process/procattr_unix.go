//go:build unix

package process

import (
	"os/exec"
	"syscall"
)

// detach starts the script in its own process group so terminal and
// control-group signals meant for cadence do not reach the build.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
