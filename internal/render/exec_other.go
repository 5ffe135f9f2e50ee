//go:build !windows

package render

import "os/exec"

// hideWindowOnWindows 在非 Windows 平台上不做任何操作
func hideWindowOnWindows(cmd *exec.Cmd) {}
