package protocol

import (
	"math/rand/v2"
	"strings"
	"unicode/utf8"

	nanoid "github.com/jaevor/go-nanoid"
)

// MaxNameLength is the longest display name, in characters.
const MaxNameLength = 24

var baseNames = []string{"Leo", "Oscar", "Josie", "Max"}

const tagAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

const tagLength = 4

// go-nanoid fills its buffer in blocks of five characters and never returns
// for shorter lengths, so the tag is cut from a longer id.
var tagSource = mustGenerator(nanoid.CustomASCII(tagAlphabet, 10))

func nameTag() string {
	return tagSource()[:tagLength]
}

func mustGenerator(gen func() string, err error) func() string {
	if err != nil {
		panic(err)
	}
	return gen
}

// NormalizeName trims surrounding whitespace and caps the result at
// MaxNameLength characters. Invalid UTF-8 is replaced rather than kept.
func NormalizeName(name string) string {
	name = strings.TrimSpace(strings.ToValidUTF8(name, "�"))
	if utf8.RuneCountInString(name) <= MaxNameLength {
		return name
	}
	runes := []rune(name)
	return strings.TrimSpace(string(runes[:MaxNameLength]))
}

// RandomName picks one of a few base names and appends a short random tag,
// e.g. "Josie-4KQ2". Uniqueness is likely but not enforced.
func RandomName() string {
	return baseNames[rand.IntN(len(baseNames))] + "-" + nameTag()
}

// ResolveName returns the normalized requested name, or a random one when
// nothing usable was requested.
func ResolveName(requested string) string {
	if name := NormalizeName(requested); name != "" {
		return name
	}
	return RandomName()
}
