package rodhost

import (
	"fmt"
	"os/exec"
	"time"
)

// startXvfb launches an Xvfb virtual display for headful mode.
func (h *Host) startXvfb() error {
	if h.xvfb != nil {
		return nil // already running
	}

	display := h.cfg.XvfbDisplay
	cmd := exec.Command("Xvfb", display, "-screen", "0", "1920x1080x24", "-ac")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("rodhost: start xvfb: %w", err)
	}
	h.xvfb = cmd

	// Give Xvfb a moment to initialise.
	time.Sleep(500 * time.Millisecond)

	h.cfg.Logger.Info("rodhost: xvfb started", "display", display, "pid", cmd.Process.Pid)
	return nil
}

// stopXvfb kills the Xvfb process if running.
func (h *Host) stopXvfb() {
	if h.xvfb == nil {
		return
	}
	if h.xvfb.Process != nil {
		h.xvfb.Process.Kill()
		h.xvfb.Wait()
	}
	h.cfg.Logger.Info("rodhost: xvfb stopped")
	h.xvfb = nil
}
