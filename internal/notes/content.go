package notes

import "strings"

const (
	defaultTitle   = "New Note"
	defaultPreview = "No additional text"
)

// Title returns the first line of the content, or a placeholder for empty notes.
func (n Note) Title() string {
	lines := contentLines(n.Content)
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return defaultTitle
	}
	return lines[0]
}

// Preview returns the second line of the content when present.
func (n Note) Preview() string {
	lines := contentLines(n.Content)
	if len(lines) > 1 && strings.TrimSpace(lines[1]) != "" {
		return lines[1]
	}
	return defaultPreview
}

func contentLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(strings.ReplaceAll(line, "​", ""), " \t")
	}
	return lines
}
