// Package caretcolor assigns presence colors to collaborative editing
// sessions. The policy is deliberately simple, a fixed palette,
// first-unused assignment, round-robin once every color is taken,
// since color-picking aesthetics aren't this system's concern.
package caretcolor

// Palette is the fixed set of colors handed out to sessions, in
// assignment order. Sixteen is enough that collisions under round-robin
// are rare for any realistic number of concurrent editors, while still
// being small enough that two colors are never visually ambiguous.
var Palette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8",
	"#f58231", "#911eb4", "#46f0f0", "#f032e6",
	"#bcf60c", "#fabebe", "#008080", "#e6beff",
	"#9a6324", "#800000", "#808000", "#000075",
}

// Assign returns the first palette color not present in inUse. If every
// color is taken, it falls back to round-robin: the color least recently
// assigned among the taken set, approximated here by cycling through the
// palette in order and picking the one used by the fewest sessions.
func Assign(inUse []string) string {
	taken := make(map[string]int, len(inUse))
	for _, c := range inUse {
		taken[c]++
	}

	for _, c := range Palette {
		if taken[c] == 0 {
			return c
		}
	}

	best := Palette[0]
	bestCount := taken[best]
	for _, c := range Palette[1:] {
		if taken[c] < bestCount {
			best = c
			bestCount = taken[c]
		}
	}
	return best
}
