package toolstream

// Repair applies a deterministic structural fix-up to a JSON-like
// payload: bare identifiers in key or string-value position are quoted,
// dangling commas before a closer are dropped, unmatched trailing
// closers are trimmed, and missing closers are appended in nesting
// order. Literal string and number content is never modified, and the
// transformation is idempotent: Repair(Repair(x)) == Repair(x).
//
// Repair is purely syntactic. It never invents missing fields or
// guesses values; semantically wrong payloads stay semantically wrong.
func Repair(payload string) string {
	out := make([]byte, 0, len(payload)+8)
	var stack []byte
	inString := false
	escaped := false
	// expectKey is true right after '{' or after ',' inside an object,
	// which is the only position where a bare word must become a key.
	expectKey := false

	i := 0
	for i < len(payload) {
		ch := payload[i]
		if inString {
			out = append(out, ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			i++
			continue
		}
		switch {
		case ch == '"':
			inString = true
			out = append(out, ch)
			i++
		case ch == '{':
			stack = append(stack, '}')
			expectKey = true
			out = append(out, ch)
			i++
		case ch == '[':
			stack = append(stack, ']')
			expectKey = false
			out = append(out, ch)
			i++
		case ch == '}' || ch == ']':
			if len(stack) > 0 && stack[len(stack)-1] == ch {
				stack = stack[:len(stack)-1]
				out = trimDanglingComma(out)
				out = append(out, ch)
			}
			// unmatched closer: trailing noise, trim
			expectKey = false
			i++
		case ch == ':':
			expectKey = false
			out = append(out, ch)
			i++
		case ch == ',':
			if len(stack) > 0 && stack[len(stack)-1] == '}' {
				expectKey = true
			}
			out = append(out, ch)
			i++
		case isIdentStart(ch):
			j := i + 1
			for j < len(payload) && isIdentPart(payload[j]) {
				j++
			}
			word := payload[i:j]
			if afterNumber(out) {
				// exponent suffix of a number token (1e5), not a word
				out = append(out, word...)
				i = j
				continue
			}
			if !expectKey && (word == "true" || word == "false" || word == "null") {
				out = append(out, word...)
			} else {
				out = append(out, '"')
				out = append(out, word...)
				out = append(out, '"')
			}
			i = j
		default:
			out = append(out, ch)
			i++
		}
	}
	if inString {
		if escaped {
			// a dangling escape would swallow the closing quote
			out = out[:len(out)-1]
		}
		out = append(out, '"')
	}
	if len(stack) > 0 {
		out = trimDanglingComma(out)
		for k := len(stack) - 1; k >= 0; k-- {
			out = append(out, stack[k])
		}
	}
	return string(out)
}

// trimDanglingComma removes a comma separating nothing from the closer
// about to be written: `{"a":1,` becomes `{"a":1`. Whitespace between
// the comma and the closer is preserved.
func trimDanglingComma(out []byte) []byte {
	i := len(out) - 1
	for i >= 0 && isSpaceByte(out[i]) {
		i--
	}
	if i >= 0 && out[i] == ',' {
		return append(out[:i], out[i+1:]...)
	}
	return out
}

// afterNumber reports whether the last emitted byte is a digit or a
// decimal point, meaning the upcoming word continues a number token.
func afterNumber(out []byte) bool {
	if len(out) == 0 {
		return false
	}
	ch := out[len(out)-1]
	return ch == '.' || (ch >= '0' && ch <= '9')
}

func isSpaceByte(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || ch == '-' || ch == '.' || (ch >= '0' && ch <= '9')
}
