package notes

import "hash/fnv"

// Collaborator cursor palette. Order matters: a user's color is stable only
// while the palette is unchanged.
var colorPalette = []string{
	"#4F46E5",
	"#059669",
	"#DC2626",
	"#D97706",
	"#7C3AED",
	"#DB2777",
	"#0891B2",
	"#65A30D",
}

// ColorForUser derives a stable display color from a user identifier. The
// same user id maps to the same color on every device.
func ColorForUser(userID string) string {
	hasher := fnv.New32a()
	hasher.Write([]byte(userID)) //nolint:errcheck
	return colorPalette[hasher.Sum32()%uint32(len(colorPalette))]
}
