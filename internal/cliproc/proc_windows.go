//go:build windows

package cliproc

import (
	"errors"
	"os"
	"os/exec"
)

var sigterm = os.Kill

func setProcessGroup(*exec.Cmd) {}

func signalGroup(proc *os.Process, sig os.Signal) error {
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
