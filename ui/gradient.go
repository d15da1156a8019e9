package ui

import (
	"fmt"
	"strings"

	"github.com/muesli/termenv"
)

const (
	barStartHex = "#F0A868"
	barEndHex   = "#7EC8D8"
	barEmptyHex = "#3C3C3C"
)

// parseHex converts "#RRGGBB" to its components. Malformed input is black.
func parseHex(hex string) (r, g, b uint8) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0, 0, 0
	}
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return 0, 0, 0
	}
	return r, g, b
}

func lerpByte(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}

// lerpHex returns the colour a fraction t of the way from start to end.
func lerpHex(start, end string, t float64) string {
	r1, g1, b1 := parseHex(start)
	r2, g2, b2 := parseHex(end)
	return fmt.Sprintf("#%02X%02X%02X", lerpByte(r1, r2, t), lerpByte(g1, g2, t), lerpByte(b1, b2, t))
}

// progressBar renders a bar of width cells filled to percent. The filled part
// fades from barStartHex to barEndHex; profile decides how much of that colour
// survives, so an Ascii profile yields plain "█" and "░" cells.
func progressBar(profile termenv.Profile, width int, percent float64) string {
	if width <= 0 {
		return ""
	}
	filled := int(percent / 100 * float64(width))
	filled = max(0, min(filled, width))

	var sb strings.Builder
	for i := 0; i < filled; i++ {
		t := 0.0
		if filled > 1 {
			t = float64(i) / float64(filled-1)
		}
		sb.WriteString(profile.String("█").Foreground(profile.Color(lerpHex(barStartHex, barEndHex, t))).String())
	}
	if filled < width {
		sb.WriteString(profile.String(strings.Repeat("░", width-filled)).Foreground(profile.Color(barEmptyHex)).String())
	}
	return sb.String()
}
