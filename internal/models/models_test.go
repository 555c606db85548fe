package models

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTitleTruncatesByRune(t *testing.T) {
	body := strings.Repeat("é", 39) + "日本語のコメント"
	e := DraftEntry{Kind: KindComment, Payload: Comment{CourseID: "c1", DiscussionID: "d1", Body: body}}

	got := e.Title()
	if !utf8.ValidString(got) {
		t.Fatalf("Title = %q, not valid UTF-8", got)
	}
	want := strings.Repeat("é", 39) + "日..."
	if got != want {
		t.Errorf("Title = %q, want %q", got, want)
	}

	e.Payload = Comment{CourseID: "c1", DiscussionID: "d1", Body: "  short  "}
	if got := e.Title(); got != "short" {
		t.Errorf("Title = %q, want %q", got, "short")
	}
}

func TestDraftEntryJSONKeepsRejected(t *testing.T) {
	in := DraftEntry{
		ID: "01", Kind: KindDiscussion, Status: StatusFailed, RetryCount: 1, Rejected: true,
		Payload: Discussion{CourseID: "c1", Title: "t", Body: "b"},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out DraftEntry
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if !out.Rejected || out.RetryCount != 1 {
		t.Errorf("decoded rejected/retries = %v/%d, want true/1", out.Rejected, out.RetryCount)
	}
	if d, ok := out.Payload.(Discussion); !ok || d.Title != "t" {
		t.Errorf("payload = %#v", out.Payload)
	}
}
