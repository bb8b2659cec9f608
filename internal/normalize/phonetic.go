package normalize

import "strings"

// phoneticClass maps consonants to coarse sound classes (Soundex-style).
// Vowels, h, w and y map to the neutral class and are dropped.
var phoneticClass = map[byte]byte{
	'b': '1', 'f': '1', 'p': '1', 'v': '1',
	'c': '2', 'g': '2', 'j': '2', 'k': '2', 'q': '2', 's': '2', 'x': '2', 'z': '2',
	'd': '3', 't': '3',
	'l': '4',
	'm': '5', 'n': '5',
	'r': '6',
}

const phoneticCodeLen = 4

// PhoneticCode produces a coarse consonant-class encoding of a name, used
// only to shortlist fuzzy-match candidates before the edit-distance pass.
// It is deliberately lossy and must never stand alone as a match signal.
// The code is the first letter followed by consonant-class digits with
// adjacent duplicates collapsed, padded or truncated to a fixed length.
// Empty or non-alphabetic input yields "".
func PhoneticCode(text string) string {
	k := Key(text)
	if k == "" {
		return ""
	}

	var first byte
	for i := 0; i < len(k); i++ {
		c := k[i]
		if c >= 'a' && c <= 'z' {
			first = c
			break
		}
	}
	if first == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteByte(first - 'a' + 'A')

	prev := phoneticClass[first]
	for i := strings.IndexByte(k, first) + 1; i < len(k) && sb.Len() < phoneticCodeLen; i++ {
		c := k[i]
		if c < 'a' || c > 'z' {
			prev = 0
			continue
		}
		class, ok := phoneticClass[c]
		if !ok {
			// Vowel-ish: breaks a duplicate run but emits nothing.
			prev = 0
			continue
		}
		if class == prev {
			continue
		}
		sb.WriteByte(class)
		prev = class
	}

	code := sb.String()
	for len(code) < phoneticCodeLen {
		code += "0"
	}
	return code
}
