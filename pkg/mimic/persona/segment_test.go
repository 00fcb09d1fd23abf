package persona

import (
	"reflect"
	"testing"
)

func TestSegment(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "plain text",
			content: "hello there",
			want:    []string{"hello there"},
		},
		{
			name:    "split marker",
			content: "one---two",
			want:    []string{"one", "two"},
		},
		{
			name:    "newline counts as split",
			content: "one\ntwo",
			want:    []string{"one", "two"},
		},
		{
			name:    "ignore marker line dropped between splits",
			content: "a---b\n-+-\nc",
			want:    []string{"a", "b", "c"},
		},
		{
			name:    "pure ignore yields single empty part",
			content: "-+-",
			want:    []string{""},
		},
		{
			name:    "empty input yields single empty part",
			content: "",
			want:    []string{""},
		},
		{
			name:    "whitespace around parts trimmed",
			content: "  hey --- you  ",
			want:    []string{"hey", "you"},
		},
		{
			name:    "ignore marker stripped from mixed part",
			content: "keep this -+- too",
			want:    []string{"keep this  too"},
		},
		{
			name:    "leaked tool syntax dropped",
			content: "real reply---functions.sticker({})",
			want:    []string{"real reply"},
		},
		{
			name:    "imitated response prefix stripped",
			content: "milo<response>: the actual reply",
			want:    []string{"the actual reply"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Segment(tc.content)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Segment(%q) = %#v, want %#v", tc.content, got, tc.want)
			}
		})
	}
}
