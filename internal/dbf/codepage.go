package dbf

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// DefaultCodePage is used when the header carries no recognised code page
// mark and the caller does not force one.
var DefaultCodePage = charmap.Windows1252

// CodePageFor maps a header code page mark (language driver id) to a
// single-byte character map.
func CodePageFor(mark byte) *charmap.Charmap {
	switch mark {
	case 0x01:
		return charmap.CodePage437
	case 0x02:
		return charmap.CodePage850
	case 0x64:
		return charmap.CodePage852
	case 0x65:
		return charmap.CodePage866
	case 0xC8:
		return charmap.Windows1250
	case 0xC9:
		return charmap.Windows1251
	}
	return DefaultCodePage
}

func resolveCodePage(forced *charmap.Charmap, s *Schema) *charmap.Charmap {
	if forced != nil {
		return forced
	}
	return CodePageFor(s.CodePageMark)
}

func decodeText(cm *charmap.Charmap, b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(cm.DecodeByte(c))
	}
	return sb.String()
}

// encodeText converts s to the code page. Runes with no mapping become '?'.
func encodeText(cm *charmap.Charmap, s string) []byte {
	out := make([]byte, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		b, ok := cm.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return out
}
