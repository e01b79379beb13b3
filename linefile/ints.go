package linefile

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Verdicts from the strict integer parser, testable with errors.Is.
var (
	ErrEmptyInput      = errors.New("empty string")
	ErrTrailingChars   = errors.New("trailing characters")
	ErrOverflow        = errors.New("numeric overflow")
	ErrMinusOnUnsigned = errors.New("minus sign on unsigned")
	ErrNegative        = errors.New("negative value not allowed")
)

// CheckAllInts converts s to an integer of the exact bit width and
// signedness requested (byteCount of 1, 2, 4 or 8). Unlike atoi the whole
// string must be a number, no trailing trash allowed, and overflow is
// checked at every digit rather than at the end. typeString names the target
// type in error messages ("byte", "short", ...). noNeg rejects negative
// values even when the type is signed.
//
// The value comes back in an int64; for an unsigned 8-byte target the bits
// are the value, convert with uint64(v).
func CheckAllInts(s string, isSigned bool, byteCount int, typeString string, noNeg bool) (int64, error) {
	switch byteCount {
	case 1, 2, 4, 8:
	default:
		panic(fmt.Sprintf("linefile: invalid byte count %d for integer size, expected 1 2 4 or 8", byteCount))
	}

	limit := uint64(math.MaxUint64) >> uint(8*(8-byteCount))
	if isSigned {
		limit >>= 1
	}

	signedPrefix := ""
	if isSigned {
		signedPrefix = "signed "
	}

	digits := s
	isMinus := false
	if strings.HasPrefix(s, "-") {
		if !isSigned {
			return 0, fmt.Errorf("unsigned %s may not begin with minus sign (-): %w", typeString, ErrMinusOnUnsigned)
		}
		if noNeg {
			return 0, ErrNegative
		}
		digits = s[1:]
		limit++
		isMinus = true
	}

	if digits == "" {
		return 0, fmt.Errorf("%w parsing %s%s", ErrEmptyInput, signedPrefix, typeString)
	}

	var value uint64
	for i := 0; i < len(digits); i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w parsing %s%s", ErrTrailingChars, signedPrefix, typeString)
		}
		previous := value
		value = value*10 + uint64(c-'0')
		if value/10 != previous && previous != 0 || value > limit {
			return 0, fmt.Errorf("%s%s overflowed, limit=%s%d: %w",
				signedPrefix, typeString, minusOrNot(isMinus), limit, ErrOverflow)
		}
	}

	if isMinus {
		return -int64(value), nil
	}
	return int64(value), nil
}

func minusOrNot(isMinus bool) string {
	if isMinus {
		return "-"
	}
	return ""
}

// AllInts is CheckAllInts with reader context: failures name the field, the
// line number and the source.
func (lf *LineFile) AllInts(words []string, wordIx int, isSigned bool, byteCount int, typeString string, noNeg bool) (int64, error) {
	s := words[wordIx]
	value, err := CheckAllInts(s, isSigned, byteCount, typeString, noNeg)
	if err != nil {
		return 0, lf.errorf("%w in field %d, got %s", err, wordIx+1, s)
	}
	return value, nil
}

// AllIntsArray parses a comma separated list of numbers, applying the
// CheckAllInts rules to every element. Parsing stops once arraySize elements
// have been collected; a trailing comma is fine. The input string is left
// untouched.
func (lf *LineFile) AllIntsArray(words []string, wordIx int, arraySize int, isSigned bool, byteCount int, typeString string, noNeg bool) ([]int64, error) {
	s := words[wordIx]
	values := make([]int64, 0, arraySize)
	for s != "" && len(values) < arraySize {
		element, rest, _ := strings.Cut(s, ",")
		value, err := CheckAllInts(element, isSigned, byteCount, typeString, noNeg)
		if err != nil {
			return nil, lf.errorf("%w in column %d of array field %d, got %s",
				err, len(values), wordIx+1, element)
		}
		values = append(values, value)
		s = rest
	}
	return values, nil
}

// NeedNum makes sure words[wordIx] starts like an ascii integer, and
// returns its value. Like atoi, conversion stops at the first non-digit
// character.
func (lf *LineFile) NeedNum(words []string, wordIx int) (int, error) {
	s := words[wordIx]
	if s == "" || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
		return 0, lf.errorf("expecting number field %d, got %s", wordIx+1, s)
	}

	end := 1
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if s[:end] == "-" {
		return 0, nil
	}
	value, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, lf.errorf("expecting number field %d, got %s", wordIx+1, s)
	}
	return value, nil
}

// NeedDouble makes sure words[wordIx] is an ascii floating point value, and
// returns it. The whole word must parse; partial numbers are rejected.
func (lf *LineFile) NeedDouble(words []string, wordIx int) (float64, error) {
	s := words[wordIx]
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, lf.errorf("expecting double field %d, got %s", wordIx+1, s)
	}
	return value, nil
}
