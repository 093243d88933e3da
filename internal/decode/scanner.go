package decode

// findJSONCandidates scans the input string for top-level JSON object and
// array candidates. It handles nested brackets and string escaping to
// correctly identify boundaries.
//
// A byte-level state machine is used to skip over strings and non-JSON
// content. It is safe to iterate bytes for ASCII delimiters because UTF-8
// guarantees ASCII bytes never appear inside a multi-byte sequence.
func findJSONCandidates(s string) []string {
	var candidates []string
	var depth int
	var start = -1
	var inString bool
	var escape bool

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}

		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		if b == '"' {
			inString = true
			continue
		}

		if b == '{' || b == '[' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if b == '}' || b == ']' {
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}

	return candidates
}
