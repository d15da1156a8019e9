//go:build windows

package agent

import "os"

// terminateProcess stops the agent. Windows has no SIGTERM for console
// processes, so this is a kill.
func terminateProcess(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}
