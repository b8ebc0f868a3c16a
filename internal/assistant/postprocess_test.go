package assistant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcess(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		raw       string
		wantText  string
		wantImage string
	}{
		{
			name:      "image and citation",
			raw:       "Hello [image_url: https://example.com/a.png] world【12†source】",
			wantText:  "Hello  world",
			wantImage: "https://example.com/a.png",
		},
		{
			name:     "plain text is only trimmed",
			raw:      "  just an answer \n",
			wantText: "just an answer",
		},
		{
			name:     "every citation removed",
			raw:      "A【1:0†source】 B【4:2†source.pdf】 C",
			wantText: "A B C",
		},
		{
			name:      "only first image is extracted",
			raw:       "[image_url: http://a.test/1.jpg] then [image_url: http://a.test/2.jpg]",
			wantText:  "then [image_url: http://a.test/2.jpg]",
			wantImage: "http://a.test/1.jpg",
		},
		{
			name:      "no whitespace after colon",
			raw:       "see [image_url:https://cdn.test/x.png]",
			wantText:  "see",
			wantImage: "https://cdn.test/x.png",
		},
		{
			name:     "non http scheme is not an image",
			raw:      "[image_url: ftp://host/file.png]",
			wantText: "[image_url: ftp://host/file.png]",
		},
		{
			name:     "brackets without source infix stay",
			raw:      "keep 【note】 here",
			wantText: "keep 【note】 here",
		},
		{
			name:      "image only",
			raw:       "[image_url: https://example.com/only.png]",
			wantText:  "",
			wantImage: "https://example.com/only.png",
		},
		{
			name:     "empty",
			raw:      "",
			wantText: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Process(tc.raw)
			assert.Equal(t, tc.wantText, got.Text)
			assert.Equal(t, tc.wantImage, got.Image)
		})
	}
}

func TestProcess_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"Hello [image_url: https://example.com/a.png] world【12†source】",
		"A【1†source】B【2†source】",
		"  nothing special  ",
	}
	for _, in := range inputs {
		first := Process(in)
		second := Process(first.Text)
		assert.Equal(t, first.Text, second.Text, "input %q", in)
		assert.Empty(t, second.Image, "input %q", in)
	}
}
