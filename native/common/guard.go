package common

import "errors"

// ErrModulePaused is returned by Guard when the module is halted.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module currently refuses work.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when p reports module as paused. A nil view
// or an empty module name never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
