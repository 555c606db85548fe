package monitor

import (
	"errors"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/marcus/coursesync/internal/models"
)

var (
	errRequired    = errors.New("required")
	errUnknownKind = errors.New("unknown draft kind")
)

// ComposeState holds the bound values of the draft compose form
type ComposeState struct {
	Form *huh.Form

	Kind         string
	CourseID     string
	DiscussionID string
	Title        string
	Body         string
	Anonymous    bool
}

// NewComposeState builds a compose form. Non-empty arguments prefill the
// matching fields.
func NewComposeState(kind models.Kind, courseID, discussionID string) *ComposeState {
	cs := &ComposeState{
		Kind:         string(kind),
		CourseID:     courseID,
		DiscussionID: discussionID,
	}
	if cs.Kind == "" {
		cs.Kind = string(models.KindDiscussion)
	}
	cs.buildForm()
	return cs
}

func required(s string) error {
	if strings.TrimSpace(s) == "" {
		return errRequired
	}
	return nil
}

// buildForm constructs the huh.Form based on current state
func (cs *ComposeState) buildForm() {
	kindGroup := huh.NewGroup(
		huh.NewSelect[string]().
			Title("Post type").
			Options(
				huh.NewOption("New discussion", string(models.KindDiscussion)),
				huh.NewOption("Reply to a discussion", string(models.KindComment)),
			).
			Value(&cs.Kind),
		huh.NewInput().
			Title("Course").
			Value(&cs.CourseID).
			Placeholder("course id").
			Validate(required),
	).Title("New draft")

	discussionGroup := huh.NewGroup(
		huh.NewInput().
			Title("Title").
			Value(&cs.Title).
			Placeholder("Discussion title...").
			Validate(required),
	).WithHideFunc(func() bool { return cs.Kind != string(models.KindDiscussion) })

	commentGroup := huh.NewGroup(
		huh.NewInput().
			Title("Discussion").
			Value(&cs.DiscussionID).
			Placeholder("discussion id").
			Validate(required),
	).WithHideFunc(func() bool { return cs.Kind != string(models.KindComment) })

	bodyGroup := huh.NewGroup(
		huh.NewText().
			Title("Body").
			Value(&cs.Body).
			Placeholder("Markdown is fine").
			Lines(6).
			Validate(required),
		huh.NewConfirm().
			Title("Post anonymously").
			Description("Classmates see \"Anonymous\" instead of your name").
			Value(&cs.Anonymous),
	)

	cs.Form = huh.NewForm(kindGroup, discussionGroup, commentGroup, bodyGroup)
	cs.Form.WithTheme(huh.ThemeDracula())
}

// Run shows the form in the terminal until it is submitted or aborted.
func (cs *ComposeState) Run() error {
	return cs.Form.Run()
}

// ToPayload converts the form values to a draft payload for the given author
func (cs *ComposeState) ToPayload(authorID string, role models.Role) (models.Payload, error) {
	course := strings.TrimSpace(cs.CourseID)
	switch models.Kind(cs.Kind) {
	case models.KindDiscussion:
		return models.Discussion{
			CourseID:   course,
			Title:      strings.TrimSpace(cs.Title),
			Body:       cs.Body,
			Anonymous:  cs.Anonymous,
			AuthorID:   authorID,
			AuthorRole: role,
		}, nil
	case models.KindComment:
		return models.Comment{
			CourseID:     course,
			DiscussionID: strings.TrimSpace(cs.DiscussionID),
			Body:         cs.Body,
			Anonymous:    cs.Anonymous,
			AuthorID:     authorID,
			AuthorRole:   role,
		}, nil
	}
	return nil, errUnknownKind
}
