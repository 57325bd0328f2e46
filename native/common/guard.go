package common

import (
	"errors"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause switches maintained by governance.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the operation when the module is paused. A nil view means no
// pauses are configured and every operation proceeds.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauses is an in-memory PauseView used by services and tests.
type StaticPauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

func NewStaticPauses() *StaticPauses {
	return &StaticPauses{paused: make(map[string]bool)}
}

func (s *StaticPauses) Set(module string, paused bool) {
	if s == nil || module == "" {
		return
	}
	s.mu.Lock()
	s.paused[module] = paused
	s.mu.Unlock()
}

func (s *StaticPauses) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[module]
}
