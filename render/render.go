package render

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"

	"market_terminal/models"
)

const (
	frameWidth  = 78
	leftWidth   = 46
	rightWidth  = frameWidth - leftWidth - 3 // 3 for " │ "
	sparkHeight = 6

	resonanceCells = 10
)

var (
	titleColor  = color.New(color.FgHiMagenta, color.Bold)
	tableHeader = color.New(color.FgCyan)
	upColor     = color.New(color.FgGreen)
	downColor   = color.New(color.FgRed)
	vividFlow   = color.New(color.FgHiGreen)
	warmFlow    = color.New(color.FgYellow)
	coolFlow    = color.New(color.FgRed)
	dimColor    = color.New(color.FgHiBlack)
)

// wisdomPool feeds the rotating line in the flow panel.
var wisdomPool = []string{
	"the river of price flows where attention goes",
	"stillness between ticks is also data",
	"every candle burns from both ends of fear",
	"the pattern repeats until the watcher changes",
	"volume is the breath of the market",
	"what ascends in silence descends in noise",
}

// Renderer composes one text frame per refresh. It only reads the
// snapshots it is given; all state lives in the market package.
type Renderer struct {
	refreshInterval time.Duration
	sparkWidth      int
	sparkHeight     int
}

func NewRenderer(refreshInterval time.Duration) *Renderer {
	return &Renderer{
		refreshInterval: refreshInterval,
		sparkWidth:      rightWidth,
		sparkHeight:     sparkHeight,
	}
}

// Render builds the full frame: header, markets table beside the
// price and flow panels, then the footer.
func (r *Renderer) Render(view []models.Snapshot, now time.Time) string {
	var b strings.Builder

	r.writeHeader(&b, now)

	left := r.marketTable(view)
	right := r.sidePanels(view, now)
	rows := len(left)
	if len(right) > rows {
		rows = len(right)
	}
	blankLeft := strings.Repeat(" ", leftWidth)
	for i := 0; i < rows; i++ {
		l := blankLeft
		if i < len(left) {
			l = left[i]
		}
		rgt := ""
		if i < len(right) {
			rgt = right[i]
		}
		b.WriteString(l)
		b.WriteString(dimColor.Sprint(" │ "))
		b.WriteString(rgt)
		b.WriteByte('\n')
	}

	r.writeFooter(&b)

	return b.String()
}

func (r *Renderer) writeHeader(b *strings.Builder, now time.Time) {
	b.WriteString("╔" + strings.Repeat("═", frameWidth-2) + "╗\n")
	b.WriteString("║" + titleColor.Sprint(centerText("Q U A N T U M   F L O W   T E R M I N A L", frameWidth-2)) + "║\n")
	b.WriteString("║" + dimColor.Sprint(centerText("divine market telemetry", frameWidth-2)) + "║\n")
	b.WriteString("║" + centerText(now.Format("2006-01-02 15:04:05 MST"), frameWidth-2) + "║\n")
	b.WriteString("╚" + strings.Repeat("═", frameWidth-2) + "╝\n")
}

// marketTable returns the left column, every line exactly leftWidth
// runes wide. Cells are padded before coloring so ANSI codes never
// disturb the alignment.
func (r *Renderer) marketTable(view []models.Snapshot) []string {
	lines := make([]string, 0, len(view)+1)
	header := fmt.Sprintf("%-9s %11s %8s %9s %s", "SYMBOL", "PRICE", "CHG%", "VOLUME", "FLOW")
	lines = append(lines, tableHeader.Sprint(padRight(header, leftWidth)))

	for _, snap := range view {
		symbol := padRight(strings.ToUpper(snap.Symbol), 9)
		price := fmt.Sprintf("%11s", formatPrice(snap.Latest.Price))

		change := fmt.Sprintf("%+7.2f%%", snap.Latest.ChangePct24h)
		if snap.Latest.ChangePct24h < 0 {
			change = downColor.Sprint(change)
		} else {
			change = upColor.Sprint(change)
		}

		volume := fmt.Sprintf("%9s", formatVolume(snap.Latest.Volume))

		flow := flowColor(snap.Energy).Sprint(padRight(flowCell(snap), 5))

		row := symbol + " " + price + " " + change + " " + volume + " " + flow
		lines = append(lines, row)
	}
	return lines
}

// flowCell repeats the symbol's glyph in proportion to its energy.
func flowCell(snap models.Snapshot) string {
	reps := int(snap.Energy * 5)
	if reps < 1 {
		reps = 1
	}
	return strings.Repeat(string(snap.FlowGlyph), reps)
}

func flowColor(energy float64) *color.Color {
	switch {
	case energy > 0.7:
		return vividFlow
	case energy > 0.4:
		return warmFlow
	default:
		return coolFlow
	}
}

// sidePanels stacks the price sparkline above the flow panel.
func (r *Renderer) sidePanels(view []models.Snapshot, now time.Time) []string {
	lines := make([]string, 0, r.sparkHeight+8)

	primary := view[0]
	lines = append(lines, tableHeader.Sprint(padRight(strings.ToUpper(primary.Symbol)+" flow", rightWidth)))
	if len(primary.PriceHistory) < 2 {
		lines = append(lines, sparklinePlaceholder(r.sparkWidth, r.sparkHeight)...)
		lines = append(lines, padRight("", rightWidth))
	} else {
		lines = append(lines, sparkline(primary.PriceHistory, r.sparkWidth, r.sparkHeight)...)
		min, max := windowBounds(primary.PriceHistory, r.sparkWidth)
		lines = append(lines, dimColor.Sprint(padRight(
			fmt.Sprintf("low %s  high %s", formatPrice(min), formatPrice(max)), rightWidth)))
	}

	lines = append(lines, padRight("", rightWidth))
	lines = append(lines, tableHeader.Sprint(padRight("divine flow", rightWidth)))

	var glyphs strings.Builder
	for i, snap := range view {
		if i > 0 {
			glyphs.WriteByte(' ')
		}
		glyphs.WriteRune(snap.FlowGlyph)
	}
	lines = append(lines, padRight(glyphs.String(), rightWidth))

	wisdom := wisdomPool[int(now.Unix()/10)%len(wisdomPool)]
	lines = append(lines, dimColor.Sprint(padRight(truncate(wisdom, rightWidth), rightWidth)))

	lines = append(lines, "resonance "+resonanceBar(now))

	return lines
}

// resonanceBar breathes on a slow sine of the wall clock.
func resonanceBar(now time.Time) string {
	fill := math.Sin(float64(now.Unix())*0.1)*0.5 + 0.5
	cells := int(fill*resonanceCells + 0.5)
	if cells < 0 {
		cells = 0
	}
	if cells > resonanceCells {
		cells = resonanceCells
	}
	return "[" + vividFlow.Sprint(strings.Repeat("█", cells)) +
		dimColor.Sprint(strings.Repeat("░", resonanceCells-cells)) + "]"
}

func (r *Renderer) writeFooter(b *strings.Builder) {
	b.WriteString(strings.Repeat("─", frameWidth) + "\n")
	hint := fmt.Sprintf("ctrl+c to release the flow · refresh %s", r.refreshInterval)
	b.WriteString(dimColor.Sprint(hint) + "\n")
}

func windowBounds(prices []float64, width int) (float64, float64) {
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
	return min, max
}

func padRight(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return truncate(s, width)
	}
	return s + strings.Repeat(" ", width-n)
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width])
}

func formatVolume(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.2fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
