//go:build windows

package transport

import (
	"os/exec"
	"strconv"
	"syscall"
)

// createNoWindow keeps child consoles from flashing up.
const createNoWindow = 0x08000000

func prepareCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: createNoWindow,
	}
}

// terminate asks the whole tree to close.
func terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	tk := exec.Command("taskkill", "/T", "/PID", strconv.Itoa(cmd.Process.Pid))
	prepareCommand(tk)
	return tk.Run()
}

func kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	tk := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(cmd.Process.Pid))
	prepareCommand(tk)
	if err := tk.Run(); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
