package tools

import "strings"

// readIndentationBlock returns the block of code around an anchor line.
//
// The block is the run of lines around the anchor indented at least as far
// as the anchor. Each level in MaxLevels, plus one more when
// IncludeSiblings is set, widens it to the block enclosing the current one.
// With IncludeHeader (the default) the line opening the block is included,
// as is a closing line at the header's indentation such as "}" or "end".
// The result is capped at limit lines, and at MaxLines when set, keeping
// the anchor inside the window.
func readIndentationBlock(path string, offset, limit int, args IndentationArgs) ([]string, error) {
	lines, err := readAllLines(path)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return []string{}, nil
	}
	anchor := args.AnchorLine
	if anchor <= 0 {
		anchor = offset
	}
	if anchor > len(lines) {
		return nil, errOffsetPastEnd
	}
	a := anchor - 1

	indents := make([]int, len(lines))
	for i, l := range lines {
		indents[i] = indentOf(l)
	}
	target := effectiveIndent(indents, a)

	climbs := args.MaxLevels
	if args.IncludeSiblings {
		climbs++
	}
	for ; climbs > 0 && target > 0; climbs-- {
		h := headerAbove(indents, a, target)
		if h < 0 {
			target = 0
			break
		}
		target = indents[h]
	}

	start, end := a, a
	for start > 0 && (indents[start-1] < 0 || indents[start-1] >= target) {
		start--
	}
	for end+1 < len(lines) && (indents[end+1] < 0 || indents[end+1] >= target) {
		end++
	}
	// Blank lines at the edges belong to the surrounding code.
	for start < a && indents[start] < 0 {
		start++
	}
	for end > a && indents[end] < 0 {
		end--
	}

	includeHeader := args.IncludeHeader == nil || *args.IncludeHeader
	if includeHeader && start > 0 && indents[start-1] >= 0 && indents[start-1] < target {
		header := indents[start-1]
		start--
		if end+1 < len(lines) && indents[end+1] == header && isCloser(lines[end+1]) {
			end++
		}
	}

	capLines := limit
	if args.MaxLines > 0 && args.MaxLines < capLines {
		capLines = args.MaxLines
	}
	if end-start+1 > capLines {
		last := end
		start = max(start, a-capLines/2)
		end = start + capLines - 1
		if end > last {
			end = last
			start = last - capLines + 1
		}
	}

	out := make([]string, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, formatLine(i+1, lines[i]))
	}
	return out, nil
}

// indentOf measures leading whitespace, counting a tab as tabWidth columns.
// Blank lines report -1.
func indentOf(line string) int {
	if strings.TrimSpace(line) == "" {
		return -1
	}
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += tabWidth
		default:
			return n
		}
	}
	return n
}

// effectiveIndent is the indentation of line i, or of the next non-blank
// line when i is blank.
func effectiveIndent(indents []int, i int) int {
	for j := i; j < len(indents); j++ {
		if indents[j] >= 0 {
			return indents[j]
		}
	}
	return 0
}

// headerAbove finds the nearest line above i indented less than target.
func headerAbove(indents []int, i, target int) int {
	for j := i - 1; j >= 0; j-- {
		if indents[j] >= 0 && indents[j] < target {
			return j
		}
	}
	return -1
}

func isCloser(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "}") || strings.HasPrefix(t, ")") || strings.HasPrefix(t, "]") || t == "end" || strings.HasPrefix(t, "end ")
}
