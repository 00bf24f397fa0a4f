// Package speech plays coaching feedback through a text-to-speech command.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"coachmic/internal/logger"
	"coachmic/internal/ports"
)

var ErrSpeaking = ports.ErrSpeechBusy

// waitDelay bounds how long Wait lingers on stderr after the process died.
const waitDelay = 500 * time.Millisecond

// DefaultCommand picks the platform's stock TTS binary.
func DefaultCommand() string {
	if runtime.GOOS == "darwin" {
		return "say"
	}
	return "espeak"
}

// CommandSpeaker implements ports.SpeechOutput by running Command with the
// text as its last argument.
type CommandSpeaker struct {
	command string
	args    []string

	mu      sync.Mutex
	current *playback
}

type playback struct {
	cmd     *exec.Cmd
	stopped bool
}

func NewCommandSpeaker(command string, args ...string) *CommandSpeaker {
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand()
	}
	return &CommandSpeaker{command: command, args: args}
}

func (s *CommandSpeaker) Speak(ctx context.Context, text string, done func(error)) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("nothing to say")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return ErrSpeaking
	}

	args := append(append([]string(nil), s.args...), text)
	cmd := exec.CommandContext(ctx, s.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.command, err)
	}

	p := &playback{cmd: cmd}
	s.current = p
	logger.Debug("speech started", "command", s.command, "chars", len(text))

	go func() {
		err := cmd.Wait()

		s.mu.Lock()
		stopped := p.stopped
		if s.current == p {
			s.current = nil
		}
		s.mu.Unlock()

		if stopped {
			err = nil
		} else if err != nil {
			if detail := strings.TrimSpace(stderr.String()); detail != "" {
				err = fmt.Errorf("%w: %s", err, detail)
			}
		}
		if done != nil {
			done(err)
		}
	}()
	return nil
}

// Stop interrupts playback and frees the speaker for the next Speak. The
// pending done callback still fires with nil.
func (s *CommandSpeaker) Stop() error {
	s.mu.Lock()
	p := s.current
	if p != nil {
		p.stopped = true
		s.current = nil
	}
	s.mu.Unlock()

	if p == nil || p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Speaking reports whether playback is in progress.
func (s *CommandSpeaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}
