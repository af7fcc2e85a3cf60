// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// vaapiRenderNode is the conventional VAAPI render device path.
const vaapiRenderNode = "/dev/dri/renderD128"

// vaapiPreflightTimeout bounds the short real-encode probe PreflightVAAPI
// runs at startup.
const vaapiPreflightTimeout = 10 * time.Second

var (
	vaapiMu      sync.RWMutex
	vaapiChecked bool
	vaapiPassed  bool
)

// HasVAAPIDevice checks only for the render node's presence. This alone
// never authorizes hardware encoding; see IsVAAPIReady.
func HasVAAPIDevice() bool {
	_, err := os.Stat(vaapiRenderNode)
	return err == nil
}

// SetVAAPIPreflightResult records whether a real short encode test against
// the VAAPI device succeeded. Called once at process startup.
func SetVAAPIPreflightResult(passed bool) {
	vaapiMu.Lock()
	defer vaapiMu.Unlock()
	vaapiChecked = true
	vaapiPassed = passed
}

// IsVAAPIReady is fail-closed: true only once a preflight encode test has
// run and passed, never from device-node presence alone (spec §4.3 item 8).
func IsVAAPIReady() bool {
	vaapiMu.RLock()
	defer vaapiMu.RUnlock()
	return vaapiChecked && vaapiPassed
}

// PreflightVAAPI runs a real short h264_vaapi encode against the render
// node and records the outcome via SetVAAPIPreflightResult, so
// IsVAAPIReady reflects a tested capability rather than mere device
// presence (spec §4.3 item 8). ffmpegPath is the binary under test; an
// empty value falls back to "ffmpeg" from PATH.
func PreflightVAAPI(ffmpegPath string) error {
	if !HasVAAPIDevice() {
		SetVAAPIPreflightResult(false)
		return fmt.Errorf("vaapi preflight: %s not present", vaapiRenderNode)
	}

	bin := ffmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}

	ctx, cancel := context.WithTimeout(context.Background(), vaapiPreflightTimeout)
	defer cancel()

	// #nosec G204 -- bin is the operator-configured ffmpeg path, not user input.
	cmd := exec.CommandContext(ctx, bin,
		"-hide_banner", "-loglevel", "error",
		"-vaapi_device", vaapiRenderNode,
		"-f", "lavfi",
		"-i", "testsrc=duration=0.2:size=1280x720:rate=25",
		"-vf", "format=nv12,hwupload",
		"-c:v", "h264_vaapi",
		"-frames:v", "5",
		"-f", "null", "-",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		SetVAAPIPreflightResult(false)
		return fmt.Errorf("vaapi preflight: encode test failed: %w (output: %s)", err, string(out))
	}

	SetVAAPIPreflightResult(true)
	return nil
}

// EncoderPath names the video encoder path chosen at startup.
type EncoderPath string

const (
	EncoderSoftware EncoderPath = "software"
	EncoderVAAPI    EncoderPath = "vaapi"
)

// SelectEncoderPath picks at most one encoder path, once, per spec §4.3
// item 8: hardware is only selected if IsVAAPIReady; the decision is a
// configuration, not a per-request switch.
func SelectEncoderPath() EncoderPath {
	if IsVAAPIReady() {
		return EncoderVAAPI
	}
	return EncoderSoftware
}
