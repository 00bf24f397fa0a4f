package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"coachmic/internal/analysis"
	"coachmic/internal/bootstrap"
	"coachmic/internal/domain"
)

const (
	eventTurn       = "coachmic:turn"
	eventHeard      = "coachmic:heard"
	eventIndicators = "coachmic:indicators"
	eventAnalysis   = "coachmic:analysis"
	eventError      = "coachmic:error"

	defaultDebugLimit = 100
)

var errNothingToSay = errors.New("nothing to say")

// App is the Wails application root. It is also the coordinator's event sink.
type App struct {
	ctx context.Context

	services *bootstrap.Services
	bootErr  error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(bootstrap.Options{
		Events:     a,
		OnAnalysis: a.analysisRequested,
	})
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	services.Start(ctx)
	a.services = &services
	a.TurnStateChanged(domain.TurnStateIdle, domain.TurnReasonSessionStopped)
}

func (a *App) shutdown(ctx context.Context) {
	if a.services != nil {
		a.services.Close(ctx)
	}
}

// StartSession begins a coaching session once the camera and pose model are up.
func (a *App) StartSession() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	a.services.Coordinator.StartSession()
	return a.services.Coordinator.Status(), nil
}

// StopSession ends the session from any state.
func (a *App) StopSession() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Coordinator.StopSession()
	return nil
}

// Speak plays coaching feedback; listening pauses until it finishes.
func (a *App) Speak(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return errNothingToSay
	}
	a.services.Coordinator.Speak(text)
	return nil
}

// AnalysisFinished closes the running analysis. Non-empty feedback is spoken;
// otherwise listening resumes directly.
func (a *App) AnalysisFinished(feedback string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	spoke := strings.TrimSpace(feedback) != ""
	a.services.FinishAnalysis(spoke)
	if spoke {
		a.services.Coordinator.Speak(feedback)
	}
	return nil
}

// GetStatus returns the current coordinator status.
func (a *App) GetStatus() domain.Status {
	if a.services == nil {
		status := domain.Status{State: domain.TurnStateIdle}
		if a.bootErr != nil {
			status.Message = a.bootErr.Error()
		}
		return status
	}
	return a.services.Coordinator.Status()
}

// GetDebugLog returns recent debug records, newest first.
func (a *App) GetDebugLog(limit int) []domain.DebugRecord {
	if a.services == nil {
		return nil
	}
	if limit <= 0 {
		limit = defaultDebugLimit
	}
	return a.services.DebugLog.Snapshot(limit)
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	return map[string]string{
		"provider":    "Deepgram",
		"model":       cfg.Deepgram.Model,
		"language":    cfg.Recognizer.Language,
		"recognizer":  cfg.Recognizer.Backend,
		"aliasesFile": cfg.Trigger.AliasesPath,
		"tuningFile":  cfg.Tuning.Path,
		"audioInput":  cfg.Audio.InputDevice,
		"metrics":     cfg.Metrics.Addr,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// TurnStateChanged emits turn transitions to the frontend.
func (a *App) TurnStateChanged(state domain.TurnState, reason domain.TurnReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTurn, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": turnReasonMessage(reason),
	})
}

// Heard emits an utterance that was not a command.
func (a *App) Heard(text string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventHeard, map[string]string{
		"text":    text,
		"message": heardMessage(text),
	})
}

// Indicators emits the mic/camera/session status dots.
func (a *App) Indicators(ind domain.Indicators) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventIndicators, ind)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func (a *App) analysisRequested(req analysis.Request) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventAnalysis, req)
}

func heardMessage(text string) string {
	return "heard: " + text
}

func turnReasonMessage(reason domain.TurnReason) string {
	switch reason {
	case domain.TurnReasonSessionStarted:
		return "session started"
	case domain.TurnReasonSessionStopped:
		return "session stopped"
	case domain.TurnReasonListening:
		return "listening"
	case domain.TurnReasonNotListening:
		return "not listening"
	case domain.TurnReasonSpeaking:
		return "speaking"
	case domain.TurnReasonRetryScheduled:
		return "mic hiccup, retrying"
	case domain.TurnReasonSpeechUnavailable:
		return "speech unavailable (try again)"
	case domain.TurnReasonStartFailed:
		return "speech start failed"
	case domain.TurnReasonAnalysisStarted:
		return "analyzing"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodePermission:
		return "Microphone permission denied"
	case domain.ErrorCodeStartFailed:
		return "Speech start failed"
	case domain.ErrorCodeRuntime:
		return "Speech recognition error"
	case domain.ErrorCodeHang:
		return "Speech recognition stalled"
	case domain.ErrorCodeExhausted:
		return "Speech unavailable (try again)"
	case domain.ErrorCodeSpeech:
		return "Speech output failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
