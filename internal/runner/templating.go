package runner

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/google/uuid"
)

// ErrMalformedTemplate is returned for topic formats with unknown or unbalanced tokens.
var ErrMalformedTemplate = errors.New("malformed topic template")

// NewRunID returns a short random id that tells runs apart in topics and
// client ids.
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// TopicData is passed to the execution context
type TopicData struct {
	SessionID string
	RunID     string
	DataKind  string
}

var topicTokens = []struct {
	token string
	field string
}{
	{"{session_id}", "{{.SessionID}}"},
	{"{pub_id}", "{{.SessionID}}"},
	{"{run_id}", "{{.RunID}}"},
	{"{unique_id}", "{{.RunID}}"},
	{"{data_kind}", "{{.DataKind}}"},
	{"{data_type}", "{{.DataKind}}"},
}

// TopicTemplate renders topic names from a format such as
// "{run_id}/hello/{session_id}/world".
type TopicTemplate struct {
	format string
	tmpl   *template.Template
}

// Preprocess converts {token} placeholders to Go template syntax.
func Preprocess(format string) (string, error) {
	rest := format
	for _, t := range topicTokens {
		rest = strings.ReplaceAll(rest, t.token, "")
	}
	if i := strings.IndexAny(rest, "{}"); i >= 0 {
		return "", fmt.Errorf("%w: %q: unexpected %q", ErrMalformedTemplate, format, rest[i])
	}

	s := format
	for _, t := range topicTokens {
		s = strings.ReplaceAll(s, t.token, t.field)
	}
	return s, nil
}

func ParseTopic(format string) (*TopicTemplate, error) {
	if format == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedTemplate)
	}
	text, err := Preprocess(format)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New("topic").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTemplate, err)
	}
	return &TopicTemplate{format: format, tmpl: tmpl}, nil
}

func (t *TopicTemplate) String() string {
	return t.format
}

// Render fills in every token.
func (t *TopicTemplate) Render(data TopicData) string {
	var buf bytes.Buffer
	// fields are plain strings, execution cannot fail
	_ = t.tmpl.Execute(&buf, data)
	return buf.String()
}

// Filter is the subscription matching every session and data kind of a run.
func (t *TopicTemplate) Filter(runID string) string {
	return t.Render(TopicData{SessionID: "+", RunID: runID, DataKind: "+"})
}
