package protocol

import (
	"strings"
	"unicode"
)

const renamePrefix = "/name"

// Input is a parsed client text frame.
type Input struct {
	// Rename is true for a "/name <new>" command; Text then holds the
	// normalized new name, which may be empty.
	Rename bool
	Text   string
}

// ParseInput classifies a raw client frame. The command token must open the
// frame and is matched exactly and case-sensitively, followed by a single
// space. ok is false when the frame carries nothing to act on.
func ParseInput(raw string) (in Input, ok bool) {
	leading := strings.TrimRightFunc(raw, unicode.IsSpace)
	if leading == renamePrefix {
		return Input{Rename: true}, true
	}
	if rest, found := strings.CutPrefix(leading, renamePrefix+" "); found {
		return Input{Rename: true, Text: NormalizeName(rest)}, true
	}

	text := strings.TrimSpace(raw)
	if text == "" {
		return Input{}, false
	}
	return Input{Text: text}, true
}
