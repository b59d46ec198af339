package common

import (
	"errors"
	"testing"
)

func TestGuardHonoursPauseSet(t *testing.T) {
	set := NewPauseSet("Staking")
	if err := Guard(set, "staking"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	set.Set("staking", false)
	if err := Guard(set, "staking"); err != nil {
		t.Fatalf("expected resume, got %v", err)
	}
	if err := Guard(nil, "staking"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	var unset *PauseSet
	if unset.IsPaused("staking") {
		t.Fatalf("nil set must report unpaused")
	}
}

func TestGuardNamesModule(t *testing.T) {
	err := Guard(NewPauseSet("staking"), "staking")
	if err == nil || err.Error() != "module paused: staking" {
		t.Fatalf("unexpected error %v", err)
	}
}
