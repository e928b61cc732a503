package flatten

import (
	"bytes"
	"strconv"
	"unicode/utf8"
)

// ToCell coerces a value into CSV-safe cell text. Null becomes "", scalars
// keep their text (numbers verbatim), and containers fall back to canonical
// JSON. It never fails.
//
// Booleans are written as JSON spells them, "true" and "false", not in the
// capitalized True/False form some exporters emit.
func ToCell(v Value) string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString, KindNumber:
		return v.text
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return Canonical(v)
	}
}

// Canonical renders v as JSON text with keys in document order, ", " and
// ": " separators, and non-ASCII characters left unescaped.
func Canonical(v Value) string {
	var buf bytes.Buffer
	writeCanonical(&buf, v, ", ", ": ")
	return buf.String()
}

func writeCanonical(buf *bytes.Buffer, v Value, itemSep, keySep string) {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		writeJSONString(buf, v.text)
	case KindNumber:
		buf.WriteString(v.text)
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindArray:
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteString(itemSep)
			}
			writeCanonical(buf, e, itemSep, keySep)
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, k := range v.obj.Keys() {
			if i > 0 {
				buf.WriteString(itemSep)
			}
			writeJSONString(buf, k)
			buf.WriteString(keySep)
			val, _ := v.obj.Get(k)
			writeCanonical(buf, val, itemSep, keySep)
		}
		buf.WriteByte('}')
	}
}

const hexDigits = "0123456789abcdef"

func writeJSONString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch c {
			case '"':
				buf.WriteString(`\"`)
			case '\\':
				buf.WriteString(`\\`)
			case '\n':
				buf.WriteString(`\n`)
			case '\r':
				buf.WriteString(`\r`)
			case '\t':
				buf.WriteString(`\t`)
			case '\b':
				buf.WriteString(`\b`)
			case '\f':
				buf.WriteString(`\f`)
			default:
				if c < 0x20 {
					buf.WriteString(`\u00`)
					buf.WriteByte(hexDigits[c>>4])
					buf.WriteByte(hexDigits[c&0xf])
				} else {
					buf.WriteByte(c)
				}
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf.WriteString("\ufffd")
		} else {
			buf.WriteString(s[i : i+size])
		}
		i += size
	}
	buf.WriteByte('"')
}
