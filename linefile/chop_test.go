package linefile

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"
)

func TestNextWord(t *testing.T) {
	s := "  one two\tthree"

	assert.Equal(t, NextWord(&s), "one")
	assert.Equal(t, NextWord(&s), "two")
	assert.Equal(t, NextWord(&s), "three")
	assert.Equal(t, NextWord(&s), "")
}

func TestSkipLeadingSpaces(t *testing.T) {
	assert.Equal(t, SkipLeadingSpaces(" \t x y"), "x y")
	assert.Equal(t, SkipLeadingSpaces("x"), "x")
	assert.Equal(t, SkipLeadingSpaces("   "), "")
	assert.Equal(t, SkipLeadingSpaces(""), "")
}

func TestChopByWhite(t *testing.T) {
	testCases := []struct {
		input    string
		maxWords int
		expected []string
	}{
		{"a b c", 0, []string{"a", "b", "c"}},
		{"  a\t\tb   c  ", 0, []string{"a", "b", "c"}},
		{"a b c", 2, []string{"a", "b"}},
		{"", 0, nil},
		{"   ", 0, nil},
		{"single", 0, []string{"single"}},
	}

	for _, testCase := range testCases {
		words := ChopByWhite(testCase.input, testCase.maxWords)
		if diff := cmp.Diff(testCase.expected, words); diff != "" {
			t.Errorf("ChopByWhite(%q, %d) mismatch (-want +got):\n%s",
				testCase.input, testCase.maxWords, diff)
		}
	}
}

func TestChopByChar(t *testing.T) {
	testCases := []struct {
		input    string
		sep      byte
		maxWords int
		expected []string
	}{
		// Adjacent separators keep their empty words
		{"a,b,c", ',', 0, []string{"a", "b", "c"}},
		{"a,,c", ',', 0, []string{"a", "", "c"}},
		{",a,", ',', 0, []string{"", "a", ""}},
		{"a\tb", '\t', 0, []string{"a", "b"}},
		{"a,b,c", ',', 2, []string{"a", "b"}},
		{"", ',', 0, nil},
		{"abc", ',', 0, []string{"abc"}},
	}

	for _, testCase := range testCases {
		words := ChopByChar(testCase.input, testCase.sep, testCase.maxWords)
		if diff := cmp.Diff(testCase.expected, words); diff != "" {
			t.Errorf("ChopByChar(%q, %q, %d) mismatch (-want +got):\n%s",
				testCase.input, testCase.sep, testCase.maxWords, diff)
		}
	}
}

func TestChopString(t *testing.T) {
	assert.DeepEqual(t, ChopString("a,b;c", ",;", 0), []string{"a", "b", "c"})
	assert.DeepEqual(t, ChopString("a,,;b", ",;", 0), []string{"a", "b"})
	assert.DeepEqual(t, ChopString("a,b,c", ",", 2), []string{"a", "b"})
	assert.Assert(t, ChopString("", ",", 0) == nil)
}

func TestChopNext(t *testing.T) {
	lf := OnString("test", "# header\n\na b c\n   \nd e\n")

	words, err := lf.ChopNext(0)
	assert.NilError(t, err)
	assert.DeepEqual(t, words, []string{"a", "b", "c"})

	words, err = lf.ChopNext(0)
	assert.NilError(t, err)
	assert.DeepEqual(t, words, []string{"d", "e"})

	words, err = lf.ChopNext(0)
	assert.NilError(t, err)
	assert.Assert(t, words == nil)
}

func TestChopNextTab(t *testing.T) {
	lf := OnString("test", "a\tb\t\tc\n")

	words, err := lf.ChopNextTab(0)
	assert.NilError(t, err)
	assert.DeepEqual(t, words, []string{"a", "b", "", "c"})
}

func TestNextRow(t *testing.T) {
	lf := OnString("rows.txt", "a b c\nd e\n")

	words, err := lf.NextRow(3)
	assert.NilError(t, err)
	assert.DeepEqual(t, words, []string{"a", "b", "c"})

	_, err = lf.NextRow(3)
	assert.Assert(t, err != nil)
	assert.Equal(t, err.Error(), "line 2 of rows.txt: expecting 3 words got 2")
}

func TestNextRowAtEOF(t *testing.T) {
	lf := OnString("test", "")
	words, err := lf.NextRow(3)
	assert.NilError(t, err)
	assert.Assert(t, words == nil)
}
