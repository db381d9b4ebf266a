package caretcolor

import "testing"

func TestAssignFirstUnused(t *testing.T) {
	got := Assign(nil)
	if got != Palette[0] {
		t.Fatalf("expected first palette color for no sessions, got %q", got)
	}

	got = Assign([]string{Palette[0]})
	if got != Palette[1] {
		t.Fatalf("expected second palette color when first is taken, got %q", got)
	}
}

func TestAssignRoundRobinsWhenExhausted(t *testing.T) {
	inUse := append([]string(nil), Palette...)
	got := Assign(inUse)

	found := false
	for _, c := range Palette {
		if c == got {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected a palette color even when all are taken, got %q", got)
	}
}

func TestAssignPrefersLeastUsedOnExhaustion(t *testing.T) {
	inUse := append([]string(nil), Palette...)
	inUse = append(inUse, Palette[0], Palette[0]) // palette[0] now used 3 times, others once

	got := Assign(inUse)
	if got == Palette[0] {
		t.Fatalf("expected a less-contended color than the heavily reused one")
	}
}
