// Package ui renders CLI output: status colors and terminal detection.
package ui

import (
	"fmt"
	"sync/atomic"

	"github.com/alfredjeanlab/lambdaq/internal/model"
)

// ANSI256 color codes.
const (
	colorAccent  = 74  // blue
	colorMuted   = 245 // gray
	colorSuccess = 71  // green
	colorFailure = 167 // red
	colorRunning = 179 // amber
)

var colorEnabled atomic.Bool

func init() { colorEnabled.Store(true) }

// SetColor turns ANSI output on or off globally.
func SetColor(on bool) { colorEnabled.Store(on) }

func paint(code int, s string) string {
	if !colorEnabled.Load() {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent color. Used for request ids.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in gray.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderStatus colors a status name by lifecycle stage.
func RenderStatus(st model.Status) string {
	switch st {
	case model.StatusExecuting:
		return paint(colorRunning, st.String())
	case model.StatusSuccess:
		return paint(colorSuccess, st.String())
	case model.StatusFailure:
		return paint(colorFailure, st.String())
	default:
		return paint(colorMuted, st.String())
	}
}
