package checks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestPath(t *testing.T) {
	cases := map[string]string{
		"":                         "/",
		"/":                        "/",
		"index.html":               "/index.html",
		"/news?id=1":               "/news?id=1",
		"http://www.team1.lan/a/b": "/a/b",
		"https://www.team1.lan":    "/",
		"  /padded  ":              "/padded",
	}

	for in, want := range cases {
		assert.Equal(t, want, requestPath(in), "input %q", in)
	}
}

func TestMatchKeywords(t *testing.T) {
	matched, all := matchKeywords("Hello World", []string{"hello", "moon", " "})
	assert.Equal(t, []string{"hello"}, matched)
	assert.False(t, all)

	matched, all = matchKeywords("anything", nil)
	assert.Nil(t, matched)
	assert.True(t, all)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	// "п" is two bytes; cutting inside it backs off to the rune start
	assert.Equal(t, "a", truncate("aп", 2))
}
