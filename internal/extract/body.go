package extract

// blockBody isolates a brace-delimited block's text given the index of its
// opening brace in src. It returns the body between the braces (exclusive),
// the index just past the closing brace, and whether the block was actually
// closed. The scan tracks string, raw-string, rune, and comment state so that
// braces inside literals or comments do not perturb the nesting count.
func blockBody(src string, open int) (string, int, bool) {
	if open < 0 || open >= len(src) || src[open] != '{' {
		return "", open, false
	}

	const (
		stCode = iota
		stString
		stRawString
		stChar
		stLineComment
		stBlockComment
	)

	state := stCode
	escaped := false
	depth := 1

	for i := open + 1; i < len(src); i++ {
		c := src[i]

		switch state {
		case stCode:
			switch c {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return src[open+1 : i], i + 1, true
				}
			case '"':
				state = stString
			case '`':
				state = stRawString
			case '\'':
				state = stChar
			case '/':
				if i+1 < len(src) {
					switch src[i+1] {
					case '/':
						state = stLineComment
						i++
					case '*':
						state = stBlockComment
						i++
					}
				}
			}

		case stString:
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				state = stCode
			}

		case stRawString:
			if c == '`' {
				state = stCode
			}

		case stChar:
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '\'' {
				state = stCode
			}

		case stLineComment:
			if c == '\n' {
				state = stCode
			}

		case stBlockComment:
			if c == '*' && i+1 < len(src) && src[i+1] == '/' {
				state = stCode
				i++
			}
		}
	}

	return src[open+1:], len(src), false
}

// lineAt returns the 1-based line number of the byte offset in src.
func lineAt(src string, offset int) int {
	if offset > len(src) {
		offset = len(src)
	}
	line := 1
	for i := 0; i < offset; i++ {
		if src[i] == '\n' {
			line++
		}
	}
	return line
}
