//go:build !windows

package agent

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// terminateProcess asks the agent to shut down with SIGTERM.
func terminateProcess(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := unix.Kill(p.Pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}
