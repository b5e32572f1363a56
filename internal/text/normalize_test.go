package text_test

import (
	"testing"

	"github.com/book-expert/voiceclone-service/internal/text"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "already clean", input: "Hello there.", want: "Hello there."},
		{name: "adds terminal period", input: "Hello there", want: "Hello there."},
		{name: "keeps question", input: "Ready?", want: "Ready?"},
		{name: "collapses whitespace", input: "  Hello \n\t there  ", want: "Hello there."},
		{name: "smart quotes", input: "“Quoted” and ‘single’", want: `"Quoted" and 'single'.`},
		{name: "dashes", input: "wait—what", want: "wait-what."},
		{name: "repeated punctuation", input: "Really!!!", want: "Really!"},
		{name: "ellipsis character", input: "Well…", want: "Well."},
		{name: "blank", input: " \n ", want: ""},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.want, normalizer.Normalize(testCase.input))
		})
	}
}
