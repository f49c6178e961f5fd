package render

import (
	"fmt"
	"strings"
)

// sparkline plots one price per column, newest on the right. The
// vertical scale spans the window's [min, max]; a flat window gets a
// tiny synthetic range so the division below is always defined.
func sparkline(prices []float64, width, height int) []string {
	if len(prices) > width {
		prices = prices[len(prices)-width:]
	}

	min, max := prices[0], prices[0]
	for _, p := range prices {
		if p < min {
			min = p
		}
		if p > max {
			max = p
		}
	}
	priceRange := max - min
	if priceRange == 0 {
		priceRange = 0.01
	}

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}

	// Short windows anchor to the right so the newest price always
	// lands in the last column.
	offset := width - len(prices)
	for col, p := range prices {
		row := height - 1 - int((p-min)/priceRange*float64(height-1))
		if row < 0 {
			row = 0
		}
		if row > height-1 {
			row = height - 1
		}
		grid[row][offset+col] = '█'
	}

	lines := make([]string, height)
	for i, r := range grid {
		lines[i] = string(r)
	}
	return lines
}

// sparklinePlaceholder fills the panel while fewer than two prices
// are known.
func sparklinePlaceholder(width, height int) []string {
	lines := make([]string, height)
	for i := range lines {
		lines[i] = strings.Repeat(" ", width)
	}
	lines[height/2] = centerText("· awaiting flow ·", width)
	return lines
}

func centerText(s string, width int) string {
	runes := []rune(s)
	if len(runes) >= width {
		return string(runes[:width])
	}
	left := (width - len(runes)) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-left-len(runes))
}

func formatPrice(p float64) string {
	if p >= 1000 {
		return fmt.Sprintf("%.2f", p)
	}
	return fmt.Sprintf("%.4f", p)
}
