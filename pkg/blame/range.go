package blame

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseRange resolves a "-L" style range against the lines of a file.
//
// The range is "start[,end]". Each bound is a 1-based line number or a
// /regexp/ naming the first line at or after the search start that
// matches. The end may also be "+n" (n lines from start) or "-n" (n lines
// ending at start). A missing end means the end of the file.
func ParseRange(spec string, lines []string) (LineRange, error) {
	n := len(lines)
	bottom, rest, err := parseLoc(spec, lines, 1)
	if err != nil {
		return LineRange{}, err
	}
	top := 0
	if strings.HasPrefix(rest, ",") {
		if top, rest, err = parseLoc(rest[1:], lines, bottom+1); err != nil {
			return LineRange{}, err
		}
	}
	if rest != "" {
		return LineRange{}, fmt.Errorf("%w: cannot parse %q", ErrInvalidRange, spec)
	}

	if bottom != 0 && top != 0 && top < bottom {
		bottom, top = top, bottom
	}
	if bottom < 1 {
		bottom = 1
	}
	if top < 1 {
		top = n
	}
	if top > n {
		return LineRange{}, fmt.Errorf("%w: file has only %d lines", ErrInvalidRange, n)
	}
	if bottom > top {
		return LineRange{}, fmt.Errorf("%w: %q starts past the end of the file", ErrInvalidRange, spec)
	}
	return LineRange{Start: bottom - 1, End: top}, nil
}

// parseLoc parses one bound off the front of spec. begin is the 1-based
// line a relative bound or a regexp search starts from. It returns the
// bound, 0 if none was found, and the unparsed rest.
func parseLoc(spec string, lines []string, begin int) (int, string, error) {
	if begin > 1 && (strings.HasPrefix(spec, "+") || strings.HasPrefix(spec, "-")) {
		digits := leadingDigits(spec[1:])
		if digits == "" {
			return 0, spec, nil
		}
		num, err := strconv.Atoi(digits)
		if err != nil {
			return 0, spec, fmt.Errorf("%w: %v", ErrInvalidRange, err)
		}
		rest := spec[1+len(digits):]
		switch {
		case spec[0] == '-' && num > 0:
			return begin - num, rest, nil
		case num > 0:
			return begin + num - 2, rest, nil
		default:
			return begin, rest, nil
		}
	}

	if digits := leadingDigits(spec); digits != "" {
		num, err := strconv.Atoi(digits)
		if err != nil {
			return 0, spec, fmt.Errorf("%w: %v", ErrInvalidRange, err)
		}
		return num, spec[len(digits):], nil
	}

	if !strings.HasPrefix(spec, "/") {
		return 0, spec, nil
	}
	end := 1
	for end < len(spec) && spec[end] != '/' {
		if spec[end] == '\\' {
			end++
		}
		end++
	}
	if end >= len(spec) {
		return 0, spec, nil
	}
	pattern := spec[1:end]
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, spec, fmt.Errorf("%w: -L pattern %q: %v", ErrInvalidRange, pattern, err)
	}
	for i := begin - 1; i < len(lines); i++ {
		if re.MatchString(strings.TrimSuffix(lines[i], "\n")) {
			return i + 1, spec[end+1:], nil
		}
	}
	return 0, spec, fmt.Errorf("%w: -L pattern %q: no match", ErrInvalidRange, pattern)
}

func leadingDigits(s string) string {
	i := 0
	for i < len(s) && '0' <= s[i] && s[i] <= '9' {
		i++
	}
	return s[:i]
}
