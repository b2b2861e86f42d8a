// Package textmerge reconciles two divergent plain-text snapshots outside
// the replicated-document path. It walks both texts line by line, merging
// similar lines word by word and surfacing dissimilar lines as explicit
// conflicts for the caller to resolve.
package textmerge

import (
	"strings"
	"time"
)

// Lines with similarity above this threshold are merged word by word;
// anything at or below it becomes a conflict.
const similarityThreshold = 0.7

// RemoteAuthor identifies the peer whose snapshot is being merged in.
type RemoteAuthor struct {
	UserID   string
	UserName string
	Color    string
}

// Conflict records a line both sides rewrote beyond recognition.
type Conflict struct {
	ID         string
	Position   int
	LocalText  string
	RemoteText string
	RemoteUser string
	Timestamp  time.Time
}

// Change records content the merge adopted from the remote side.
type Change struct {
	ID       string
	Type     string
	Position int
	Text     string
	UserID   string
	UserName string
	Color    string
}

const (
	// ChangeInsert marks a line the remote side added.
	ChangeInsert = "insert"
	// ChangeUpdate marks a line rewritten by the word-level merge.
	ChangeUpdate = "update"
)

// Result is the full outcome of one merge pass.
type Result struct {
	MergedText string
	Conflicts  []Conflict
	Changes    []Change
}

// Merge reconciles localText against remoteText attributed to remote. It
// never mutates a document; callers apply MergedText themselves.
func Merge(localText, remoteText string, remote RemoteAuthor, now time.Time, newID func() string) Result {
	localLines := strings.Split(localText, "\n")
	remoteLines := strings.Split(remoteText, "\n")

	maxLines := len(localLines)
	if len(remoteLines) > maxLines {
		maxLines = len(remoteLines)
	}

	merged := make([]string, 0, maxLines)
	result := Result{Conflicts: []Conflict{}, Changes: []Change{}}

	for i := 0; i < maxLines; i++ {
		localLine := lineAt(localLines, i)
		remoteLine := lineAt(remoteLines, i)

		switch {
		case localLine == remoteLine:
			merged = append(merged, localLine)
		case localLine == "":
			merged = append(merged, remoteLine)
			result.Changes = append(result.Changes, Change{
				ID:       newID(),
				Type:     ChangeInsert,
				Position: i,
				Text:     remoteLine,
				UserID:   remote.UserID,
				UserName: remote.UserName,
				Color:    remote.Color,
			})
		case remoteLine == "":
			merged = append(merged, localLine)
		default:
			if similarity(localLine, remoteLine) > similarityThreshold {
				mergedLine := mergeWords(localLine, remoteLine)
				merged = append(merged, mergedLine)
				result.Changes = append(result.Changes, Change{
					ID:       newID(),
					Type:     ChangeUpdate,
					Position: i,
					Text:     mergedLine,
					UserID:   remote.UserID,
					UserName: remote.UserName,
					Color:    remote.Color,
				})
			} else {
				merged = append(merged, localLine)
				result.Conflicts = append(result.Conflicts, Conflict{
					ID:         newID(),
					Position:   i,
					LocalText:  localLine,
					RemoteText: remoteLine,
					RemoteUser: remote.UserName,
					Timestamp:  now,
				})
			}
		}
	}

	result.MergedText = strings.Join(merged, "\n")
	return result
}

func lineAt(lines []string, index int) string {
	if index >= len(lines) {
		return ""
	}
	return lines[index]
}

// similarity scores two lines in [0, 1] from their edit distance.
func similarity(a, b string) float64 {
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0
	}
	return float64(maxLen-EditDistance(a, b)) / float64(maxLen)
}

// EditDistance computes the Levenshtein distance between two strings with
// unit-cost inserts, deletes and substitutions.
func EditDistance(a, b string) int {
	source := []rune(a)
	target := []rune(b)

	previous := make([]int, len(source)+1)
	current := make([]int, len(source)+1)
	for j := range previous {
		previous[j] = j
	}

	for i := 1; i <= len(target); i++ {
		current[0] = i
		for j := 1; j <= len(source); j++ {
			if target[i-1] == source[j-1] {
				current[j] = previous[j-1]
			} else {
				current[j] = min3(previous[j-1], current[j-1], previous[j]) + 1
			}
		}
		previous, current = current, previous
	}

	return previous[len(source)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// mergeWords merges two similar lines word by word. Equal words are kept,
// one-sided words adopted, and disagreements resolved toward the longer
// token, local winning ties.
func mergeWords(local, remote string) string {
	localWords := strings.Split(local, " ")
	remoteWords := strings.Split(remote, " ")

	maxWords := len(localWords)
	if len(remoteWords) > maxWords {
		maxWords = len(remoteWords)
	}

	merged := make([]string, 0, maxWords)
	for i := 0; i < maxWords; i++ {
		localWord := lineAt(localWords, i)
		remoteWord := lineAt(remoteWords, i)

		switch {
		case localWord == remoteWord:
			merged = append(merged, localWord)
		case localWord == "":
			merged = append(merged, remoteWord)
		case remoteWord == "":
			merged = append(merged, localWord)
		case len(localWord) >= len(remoteWord):
			merged = append(merged, localWord)
		default:
			merged = append(merged, remoteWord)
		}
	}

	kept := merged[:0]
	for _, word := range merged {
		if word != "" {
			kept = append(kept, word)
		}
	}
	return strings.Join(kept, " ")
}
