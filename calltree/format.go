package calltree

import (
	"fmt"
	"math"
	"strings"
)

const (
	glyphPipe   = "│  "
	glyphBlank  = "   "
	glyphTee    = "├─ "
	glyphElbow  = "└─ "
	plainIndent = "  "

	columnWidth = 16
)

var separator = strings.Repeat("-", 78) + "\n"

// Format renders c as a table. Each row holds the self time in ms and as a
// share of the root's execution time, the inclusive time in ms and its
// share, then the indented signature. Rows are in pre-order. With asciiArt
// the indentation uses box-drawing glyphs, otherwise plain spaces.
func (c *Call) Format(asciiArt bool) string {
	var b strings.Builder
	b.WriteString(separator)
	fmt.Fprintf(&b, "%-*s %-*s  %s\n", columnWidth, "Selftime (ms)", columnWidth, "Total (ms)", "Method signature")
	b.WriteString(separator)
	c.formatRows(&b, c.ExecutionTimeNs, "", 0, true, asciiArt)
	b.WriteString(separator)
	return b.String()
}

func (c *Call) formatRows(b *strings.Builder, total int64, indent string, depth int, last, asciiArt bool) {
	b.WriteString(FormatMillis(c.NetExecutionTimeNs))
	b.WriteByte(' ')
	b.WriteString(FormatPercent(c.NetExecutionTimeNs, total))
	b.WriteByte(' ')
	b.WriteString(FormatMillis(c.ExecutionTimeNs))
	b.WriteByte(' ')
	b.WriteString(FormatPercent(c.ExecutionTimeNs, total))
	b.WriteString("  ")

	childIndent := indent
	switch {
	case !asciiArt:
		b.WriteString(strings.Repeat(plainIndent, depth))
	case depth > 0:
		b.WriteString(indent)
		b.WriteString(BranchGlyph(last))
		childIndent += IndentGlyph(!last)
	}
	b.WriteString(c.Signature)
	b.WriteByte('\n')

	for i, child := range c.Children {
		child.formatRows(b, total, childIndent, depth+1, i == len(c.Children)-1, asciiArt)
	}
}

// FormatMillis renders ns as milliseconds with two decimals, right-aligned
// in ten columns. Values that round to zero print as 0.00 whatever their sign.
func FormatMillis(ns int64) string {
	ms := math.Round(float64(ns)/1e4) / 100
	if ms == 0 {
		ms = 0
	}
	return fmt.Sprintf("%10.2f", ms)
}

// Percent returns part as a rounded percentage of total, or 0 when total is
// not positive.
func Percent(part, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(part) * 100 / float64(total)))
}

// FormatPercent renders Percent(part, total) right-aligned in five columns.
func FormatPercent(part, total int64) string {
	return fmt.Sprintf("%4d%%", Percent(part, total))
}

// BranchGlyph is the connector drawn in front of a node.
func BranchGlyph(last bool) string {
	if last {
		return glyphElbow
	}
	return glyphTee
}

// IndentGlyph is the filler drawn below an ancestor for its descendants.
func IndentGlyph(hasNextSibling bool) string {
	if hasNextSibling {
		return glyphPipe
	}
	return glyphBlank
}
