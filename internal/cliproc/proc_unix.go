//go:build !windows

package cliproc

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

var sigterm os.Signal = syscall.SIGTERM

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup signals the whole process group so helpers spawned by the
// agent CLI exit with it. A process that is already gone is not an error.
func signalGroup(proc *os.Process, sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return proc.Signal(sig)
	}
	err := syscall.Kill(-proc.Pid, s)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
