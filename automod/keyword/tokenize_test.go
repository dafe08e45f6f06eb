package keyword

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeWords(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		text string
		out  []string
	}{
		{text: "", out: []string{}},
		{text: "   \n\t ", out: []string{}},
		{text: "---", out: []string{}},
		{text: "Hello, World!", out: []string{"hello", "world"}},
		{text: "Deploy the API-gateway v2", out: []string{"deploy", "the", "api", "gateway", "v2"}},
		{text: "it's 3.14 here", out: []string{"it's", "3.14", "here"}},
		{text: "Gdańsk", out: []string{"gdańsk"}},
	}

	for _, fix := range fixtures {
		assert.Equal(fix.out, TokenizeWords(fix.text), fix.text)
	}
}

func TestTokenizeWordsCJK(t *testing.T) {
	assert := assert.New(t)

	toks := TokenizeWords("技能指南")
	assert.NotEmpty(toks)
	assert.Equal("技能指南", strings.Join(toks, ""))
}

func TestTokenizeWordsNeverPanics(t *testing.T) {
	assert := assert.New(t)

	inputs := []string{
		"\x00\x01\x02",
		string([]byte{0xff, 0xfe, 0xfd}),
		"🙂🙂🙂",
		"#### ** __ ~~",
		strings.Repeat("a-", 5000),
	}
	for _, in := range inputs {
		assert.NotPanics(func() {
			toks := TokenizeWords(in)
			assert.NotNil(toks)
		})
	}
}

func TestFallbackWords(t *testing.T) {
	assert := assert.New(t)

	assert.Equal([]string{}, fallbackWords(""))
	assert.Equal([]string{"ab", "c-d", "it's"}, fallbackWords("a ab c-d IT'S"))
}

func TestCountWords(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(0, CountWords(""))
	assert.Equal(3, CountWords("one two three"))
}
