package fpe

import (
	"math"
	"testing"
)

func TestScopeRestoresPriorState(t *testing.T) {
	if Enabled() {
		t.Fatal("checks enabled before any scope was entered")
	}

	outer := Enter()
	if !Enabled() {
		t.Fatal("Enter() did not enable checks")
	}

	inner := Enter()
	if !Enabled() {
		t.Fatal("nested Enter() disabled checks")
	}
	inner.Exit()
	if !Enabled() {
		t.Fatal("inner Exit() cleared the outer scope's state")
	}

	outer.Exit()
	if Enabled() {
		t.Fatal("outer Exit() did not restore the disabled state")
	}
}

func TestScopeRestoresUnderEarlyReturn(t *testing.T) {
	func() {
		guard := Enter()
		defer guard.Exit()
		return
	}()
	if Enabled() {
		t.Fatal("deferred Exit() did not restore the disabled state")
	}
}

func TestCheckPanicsOnlyWhenEnabled(t *testing.T) {
	bad := []float64{0, math.NaN(), 1}

	// Disabled: non-finite data passes silently.
	Check(bad)
	CheckValue(math.Inf(1))

	guard := Enter()
	defer guard.Exit()

	Check([]float64{0, 1, -1})
	CheckValue(0.5)

	t.Run("NaN slice", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatal("Check() did not panic on NaN while enabled")
			}
		}()
		Check(bad)
	})

	t.Run("Inf value", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Fatal("CheckValue() did not panic on Inf while enabled")
			}
		}()
		CheckValue(math.Inf(-1))
	})
}
