// Package common holds helpers shared by native modules.
package common

import (
	"errors"
	"fmt"
)

// ErrModulePaused is returned by Guard for operations of a paused module.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the operator pause switch of a module.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused, naming the module, when p reports it
// paused. A nil view never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" || !p.IsPaused(module) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrModulePaused, module)
}
