package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var levels = []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline is a one-line rolling chart of the last Width values.
type Sparkline struct {
	Label string
	Width int
	Style lipgloss.Style

	data []uint64
}

func NewSparkline(width int, label string, style lipgloss.Style) Sparkline {
	return Sparkline{
		Label: label,
		Width: width,
		Style: style,
		data:  make([]uint64, 0, width),
	}
}

// Push appends v, dropping the oldest value once the window is full.
func (s *Sparkline) Push(v uint64) {
	s.data = append(s.data, v)
	if len(s.data) > s.Width {
		s.data = s.data[len(s.data)-s.Width:]
	}
}

func (s Sparkline) Len() int {
	return len(s.data)
}

// Peak is the largest value in the window; bars are scaled to it.
func (s Sparkline) Peak() uint64 {
	var peak uint64
	for _, v := range s.data {
		if v > peak {
			peak = v
		}
	}
	return peak
}

// Graph renders the bars alone, left aligned and padded to Width.
func (s Sparkline) Graph() string {
	if s.Width <= 0 {
		return ""
	}
	peak := s.Peak()

	var b strings.Builder
	for _, v := range s.data {
		idx := 0
		if peak > 0 {
			idx = int(float64(v) / float64(peak) * float64(len(levels)-1))
		}
		b.WriteRune(levels[idx])
	}
	if pad := s.Width - len(s.data); pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	return b.String()
}

func (s Sparkline) View() string {
	if s.Width <= 0 {
		return ""
	}
	return s.Style.Render(s.Label) + "\n" + s.Style.Render(s.Graph())
}
