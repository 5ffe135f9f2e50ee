//go:build windows

package render

import (
	"os/exec"
	"syscall"
)

// hideWindowOnWindows 在 Windows 上隐藏渲染命令的控制台窗口
func hideWindowOnWindows(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: 0x08000000, // CREATE_NO_WINDOW
	}
}
