package audio

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"coachmic/internal/ports"
)

const probeTimeout = 3 * time.Second

// PermissionProbe answers microphone permission checks by opening the input
// device with ffmpeg for a fraction of a second. Desktop platforms prompt the
// user on first device access, so Request is the same probe.
type PermissionProbe struct {
	command string
	cfg     ports.AudioConfig
	timeout time.Duration
}

func NewPermissionProbe(command string, cfg ports.AudioConfig) *PermissionProbe {
	if command == "" {
		command = "ffmpeg"
	}
	return &PermissionProbe{command: command, cfg: withCaptureDefaults(cfg), timeout: probeTimeout}
}

func (p *PermissionProbe) Check(ctx context.Context, done func(ports.PermissionStatus, error)) {
	go func() {
		done(p.probe(ctx))
	}()
}

func (p *PermissionProbe) Request(ctx context.Context, done func(ports.PermissionStatus, error)) {
	p.Check(ctx, done)
}

func (p *PermissionProbe) probe(ctx context.Context) (ports.PermissionStatus, error) {
	if _, err := exec.LookPath(p.command); err != nil {
		return ports.PermissionUnknown, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-f", p.cfg.InputFormat,
		"-i", p.cfg.InputDevice,
		"-t", "0.1",
		"-f", "null",
		"-",
	}
	output, err := exec.CommandContext(ctx, p.command, args...).CombinedOutput()
	return classifyProbe(string(output), err)
}

func classifyProbe(output string, err error) (ports.PermissionStatus, error) {
	if err == nil {
		return ports.PermissionGranted, nil
	}
	lower := strings.ToLower(output)
	if strings.Contains(lower, "permission denied") || strings.Contains(lower, "operation not permitted") {
		return ports.PermissionDenied, errors.New(strings.TrimSpace(output))
	}
	if detail := strings.TrimSpace(output); detail != "" {
		return ports.PermissionUnknown, errors.New(detail)
	}
	return ports.PermissionUnknown, err
}
