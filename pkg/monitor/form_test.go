package monitor

import (
	"errors"
	"testing"

	"github.com/marcus/coursesync/internal/models"
)

func TestComposeDefaultsToDiscussion(t *testing.T) {
	cs := NewComposeState("", "c1", "")
	if cs.Kind != string(models.KindDiscussion) {
		t.Errorf("kind = %q, want discussion", cs.Kind)
	}
	if cs.Form == nil {
		t.Fatal("form not built")
	}
}

func TestComposeToPayloadDiscussion(t *testing.T) {
	cs := NewComposeState(models.KindDiscussion, " c1 ", "")
	cs.Title = "  Quiz Q  "
	cs.Body = "When is it due?"
	cs.Anonymous = true

	p, err := cs.ToPayload("u1", models.RoleStudent)
	if err != nil {
		t.Fatalf("ToPayload: %v", err)
	}
	d, ok := p.(models.Discussion)
	if !ok {
		t.Fatalf("payload = %T, want Discussion", p)
	}
	if d.CourseID != "c1" || d.Title != "Quiz Q" || !d.Anonymous || d.AuthorID != "u1" {
		t.Errorf("discussion = %+v", d)
	}
	if err := d.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestComposeToPayloadComment(t *testing.T) {
	cs := NewComposeState(models.KindComment, "c1", "d1")
	cs.Body = "B, I think"

	p, err := cs.ToPayload("u2", models.RoleTA)
	if err != nil {
		t.Fatalf("ToPayload: %v", err)
	}
	c, ok := p.(models.Comment)
	if !ok {
		t.Fatalf("payload = %T, want Comment", p)
	}
	if c.DiscussionID != "d1" || c.AuthorRole != models.RoleTA {
		t.Errorf("comment = %+v", c)
	}
}

func TestComposeToPayloadUnknownKind(t *testing.T) {
	cs := NewComposeState(models.KindComment, "c1", "d1")
	cs.Kind = "poll"
	if _, err := cs.ToPayload("u1", models.RoleStudent); !errors.Is(err, errUnknownKind) {
		t.Errorf("err = %v, want errUnknownKind", err)
	}
}

func TestRequired(t *testing.T) {
	if required("  ") == nil {
		t.Error("blank should be rejected")
	}
	if required("x") != nil {
		t.Error("non-blank should pass")
	}
}
