package session

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/neoai/neoai/internal/editor"
)

// editFence matches the opening line of an edit block: ```edit 4-6 or ```edit 4.
var editFence = regexp.MustCompile("^```edit\\s+(\\d+)(?:\\s*-\\s*(\\d+))?\\s*$")

// ParseEditBlocks extracts the edits an assistant reply proposes. Block
// ranges are 1-based and inclusive; the returned edits use the buffer's
// 0-based, end-exclusive form. Malformed ranges are skipped.
func ParseEditBlocks(content, filePath string) []editor.BufferEdit {
	var edits []editor.BufferEdit
	lines := strings.Split(content, "\n")
	for i := 0; i < len(lines); i++ {
		m := editFence.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			continue
		}
		first, _ := strconv.Atoi(m[1])
		last := first
		if m[2] != "" {
			last, _ = strconv.Atoi(m[2])
		}

		var body []string
		closed := false
		for i++; i < len(lines); i++ {
			if strings.TrimSpace(lines[i]) == "```" {
				closed = true
				break
			}
			body = append(body, lines[i])
		}
		if !closed || first < 1 || last < first {
			continue
		}
		if body == nil {
			body = []string{}
		}
		edits = append(edits, editor.BufferEdit{
			StartLine: first - 1,
			EndLine:   last,
			NewLines:  body,
			FilePath:  filePath,
		})
	}
	return edits
}
