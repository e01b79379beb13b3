package linefile

import "io"

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

// SkipLeadingSpaces returns s with any leading whitespace removed.
func SkipLeadingSpaces(s string) string {
	for i := 0; i < len(s); i++ {
		if !isSpace(s[i]) {
			return s[i:]
		}
	}
	return ""
}

// NextWord returns the first whitespace-delimited word of *s and advances *s
// past it. Returns "" when the string is exhausted.
func NextWord(s *string) string {
	rest := SkipLeadingSpaces(*s)
	end := 0
	for end < len(rest) && !isSpace(rest[end]) {
		end++
	}
	*s = rest[end:]
	return rest[:end]
}

// ChopByWhite splits s on whitespace. Runs of separators count as one, so
// empty words never come back. At most maxWords words are returned, any
// text past that is dropped; maxWords <= 0 means no limit.
func ChopByWhite(s string, maxWords int) []string {
	var words []string
	i := 0
	for {
		if maxWords > 0 && len(words) >= maxWords {
			break
		}
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i == len(s) {
			break
		}
		start := i
		for i < len(s) && !isSpace(s[i]) {
			i++
		}
		words = append(words, s[start:i])
	}
	return words
}

// ChopByChar splits s on a single separator byte. Unlike ChopByWhite,
// adjacent separators produce empty words. An empty input produces no words.
func ChopByChar(s string, sep byte, maxWords int) []string {
	if len(s) == 0 {
		return nil
	}
	var words []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if maxWords > 0 && len(words) >= maxWords {
			return words
		}
		if i == len(s) {
			words = append(words, s[start:])
			break
		}
		if s[i] == sep {
			words = append(words, s[start:i])
			start = i + 1
		}
	}
	return words
}

// ChopString splits s on any byte in seps, collapsing runs of separators
// like ChopByWhite does. Because runs collapse, a list containing an empty
// element cannot be expressed; use ChopByChar for that.
func ChopString(s string, seps string, maxWords int) []string {
	isSep := func(c byte) bool {
		for i := 0; i < len(seps); i++ {
			if seps[i] == c {
				return true
			}
		}
		return false
	}

	var words []string
	i := 0
	for {
		if maxWords > 0 && len(words) >= maxWords {
			break
		}
		for i < len(s) && isSep(s[i]) {
			i++
		}
		if i == len(s) {
			break
		}
		start := i
		for i < len(s) && !isSep(s[i]) {
			i++
		}
		words = append(words, s[start:i])
	}
	return words
}

// ChopNext returns the next non-blank, non-comment line chopped into
// whitespace-separated words. Returns nil at end of stream.
func (lf *LineFile) ChopNext(maxWords int) ([]string, error) {
	for {
		line, err := lf.Next()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if len(line) > 0 && line[0] == '#' {
			continue
		}
		words := ChopByWhite(string(line), maxWords)
		if len(words) != 0 {
			return words, nil
		}
	}
}

// ChopCharNext is ChopNext with a caller-chosen separator byte.
func (lf *LineFile) ChopCharNext(sep byte, maxWords int) ([]string, error) {
	for {
		line, err := lf.Next()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if len(line) > 0 && line[0] == '#' {
			continue
		}
		words := ChopByChar(string(line), sep, maxWords)
		if len(words) != 0 {
			return words, nil
		}
	}
}

// ChopNextTab is ChopNext for tab-separated rows.
func (lf *LineFile) ChopNextTab(maxWords int) ([]string, error) {
	return lf.ChopCharNext('\t', maxWords)
}

// NextRow returns the next non-blank, non-comment line chopped into exactly
// wordCount words. Returns nil words at end of stream; a row with the wrong
// word count is an error.
func (lf *LineFile) NextRow(wordCount int) ([]string, error) {
	words, err := lf.ChopNext(wordCount)
	if err != nil || words == nil {
		return nil, err
	}
	if len(words) < wordCount {
		return nil, lf.ExpectWords(wordCount, len(words))
	}
	return words, nil
}
