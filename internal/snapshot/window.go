package snapshot

import "fmt"

// WindowResult is one page of a windowed snapshot response, mirroring the
// {truncated, totalChars, offset, hasMore, nextOffset} response metadata
// from spec §4.8.
type WindowResult struct {
	Content    string
	Truncated  bool
	TotalChars int
	Offset     int
	HasMore    bool
	NextOffset int // only meaningful when HasMore
}

// Window implements the snapshot windowing formula from spec §4.8 exactly:
// the annotated YAML is truncated when it exceeds maxChars, but the final
// tailChars are always appended after the head window so that pagination
// refs near the bottom of a long page stay addressable from any offset.
func Window(content string, offset, maxChars, tailChars int) WindowResult {
	total := len(content)

	if total <= maxChars {
		return WindowResult{Content: content, Truncated: false, TotalChars: total, Offset: 0, HasMore: false}
	}

	tail := tailChars
	if tail > total {
		tail = total
	}

	contentBudget := maxChars - tail - 200
	if contentBudget < 100 {
		contentBudget = 100
	}

	maxOffset := total - tail
	if maxOffset < 0 {
		maxOffset = 0
	}
	clampedOffset := offset
	if clampedOffset < 0 {
		clampedOffset = 0
	}
	if clampedOffset > maxOffset {
		clampedOffset = maxOffset
	}

	headEnd := clampedOffset + contentBudget
	if headEnd > total {
		headEnd = total
	}
	tailStart := total - tail

	hasMore := headEnd < tailStart
	head := content[clampedOffset:headEnd]
	tailText := content[tailStart:]

	var marker string
	if hasMore {
		marker = fmt.Sprintf("\n…truncated at char %d of %d; next offset = %d…\n", headEnd, total, headEnd)
	}

	result := head + marker + tailText

	wr := WindowResult{
		Content:    result,
		Truncated:  true,
		TotalChars: total,
		Offset:     clampedOffset,
		HasMore:    hasMore,
	}
	if hasMore {
		wr.NextOffset = headEnd
	}
	return wr
}
