package llm

import (
	"context"
	"testing"
)

type cannedCompleter struct {
	content string
	lastReq *Request
	calls   int
}

func (c *cannedCompleter) Complete(ctx context.Context, req *Request) (*Response, error) {
	c.calls++
	c.lastReq = req
	return &Response{Content: c.content}, nil
}

func TestClassifyParsesVerdict(t *testing.T) {
	completer := &cannedCompleter{content: `{"continuation": true, "aboutUser": false, "reason": "direct answer"}`}
	c := NewClassifier(completer, "small-model", nil)

	got, err := c.Classify(context.Background(), "milo", "[ana] <0>: so what do you think")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Continuation || got.AboutUser {
		t.Fatalf("verdict = %+v", got)
	}
	if got.Reason != "direct answer" {
		t.Fatalf("reason = %q", got.Reason)
	}
	if completer.lastReq.Model != "small-model" {
		t.Fatalf("model = %q", completer.lastReq.Model)
	}
}

func TestClassifyStripsCodeFences(t *testing.T) {
	completer := &cannedCompleter{content: "```json\n{\"continuation\": true}\n```"}
	c := NewClassifier(completer, "m", nil)

	got, err := c.Classify(context.Background(), "milo", "history")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Continuation {
		t.Fatal("fenced JSON not parsed")
	}
}

func TestClassifyMalformedOutputIsNoContinuation(t *testing.T) {
	completer := &cannedCompleter{content: "sure, that looks like a continuation to me!"}
	c := NewClassifier(completer, "m", nil)

	got, err := c.Classify(context.Background(), "milo", "history")
	if err != nil {
		t.Fatalf("malformed output must not error: %v", err)
	}
	if got.Continuation || got.AboutUser {
		t.Fatalf("malformed output classified as %+v, want zero verdict", got)
	}
}

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                      `{"a":1}`,
		"```json\n{\"a\":1}\n```":        `{"a":1}`,
		"```\n{\"a\":1}\n```":            `{"a":1}`,
		"  {\"a\":1}  ":                  `{"a":1}`,
	}
	for in, want := range cases {
		if got := stripFences(in); got != want {
			t.Errorf("stripFences(%q) = %q, want %q", in, got, want)
		}
	}
}
