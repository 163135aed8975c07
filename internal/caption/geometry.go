package caption

const (
	// horizontalPadding is the overlay's inner padding on each side, in
	// pixels, subtracted from the usable width.
	horizontalPadding = 16

	// glyphWidthRatio approximates the average advance of a proportional
	// glyph as a fraction of the font size.
	glyphWidthRatio = 0.6

	// widthSafety shrinks the theoretical character count to provide visual
	// padding for proportional fonts, where wide glyphs would otherwise
	// overflow.
	widthSafety = 0.85

	// minLineChars keeps the buffer usable under degenerate geometry.
	minLineChars = 8
)

// EstimateLineChars derives the character budget per caption line from the
// overlay's pixel width and font size. Deliberately conservative: the buffer
// enforces line widths so the renderer's wrap stays a safety net.
func EstimateLineChars(widthPx int, fontSize float64) int {
	if fontSize <= 0 {
		return minLineChars
	}
	usable := float64(widthPx) - 2*horizontalPadding
	if usable <= 0 {
		return minLineChars
	}
	chars := int(usable / (fontSize * glyphWidthRatio) * widthSafety)
	if chars < minLineChars {
		return minLineChars
	}
	return chars
}
