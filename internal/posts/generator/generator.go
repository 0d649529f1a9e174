package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"persona-poster/internal/posts"
)

// systemDirectives steer the model toward output that survives the hard
// character limit without post-processing surprises
const systemDirectives = "You write a single social media post. " +
	"Respond with the post text only: no quotation marks, no hashtags " +
	"unless asked, no commentary about the post itself."

const postTemplate = `# About {{.AgentName}} (@{{.Username}})
{{.Bio}}

# Areas of interest
{{.Topics}}

# Recent posts on {{.AgentName}}'s timeline
{{.Timeline}}

# Task
Write a post in the voice and style of {{.AgentName}}: {{.Style}}
The post must be brief, under {{.MaxLength}} characters, and must not
reference the timeline directly. Write something new, do not repeat or
answer the posts above.`

// Character is the persona profile the generator writes as. Loaded once at
// startup from a JSON file.
type Character struct {
	Name       string   `json:"name"`
	Username   string   `json:"username"`
	Bio        []string `json:"bio"`
	Topics     []string `json:"topics"`
	Adjectives []string `json:"adjectives"`
	Style      []string `json:"style"`
}

// LoadCharacter reads and validates the persona profile at path
func LoadCharacter(path string) (*Character, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read character file: %w", err)
	}

	var c Character
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("unable to unmarshal character file: %w", err)
	}

	if c.Name == "" || c.Username == "" {
		return nil, errors.New("character file must set name and username")
	}

	return &c, nil
}

// Completer is the language model collaborator
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Generator assembles the rendering context for one post, requests
// generation, and bounds the result to the platform character limit.
type Generator struct {
	logger    *zap.Logger
	character *Character
	completer Completer
	tmpl      *template.Template
}

func NewGenerator(logger *zap.Logger, character *Character, completer Completer) (*Generator, error) {
	g := Generator{
		logger:    logger,
		character: character,
		completer: completer,
	}

	if err := g.validate(); err != nil {
		return nil, err
	}

	g.tmpl = template.Must(template.New("post").Parse(postTemplate))

	return &g, nil
}

func (g *Generator) validate() error {
	var missingDeps []string

	for _, tc := range []struct {
		dep string
		chk func() bool
	}{
		{
			dep: "logger",
			chk: func() bool { return g.logger != nil },
		},
		{
			dep: "character",
			chk: func() bool { return g.character != nil },
		},
		{
			dep: "completer",
			chk: func() bool { return g.completer != nil },
		},
	} {
		if !tc.chk() {
			missingDeps = append(missingDeps, tc.dep)
		}
	}

	if len(missingDeps) > 0 {
		return fmt.Errorf(
			"unable to initialize generator due to (%d) missing dependencies: %s",
			len(missingDeps),
			strings.Join(missingDeps, ","),
		)
	}

	return nil
}

type templateContext struct {
	AgentName string
	Username  string
	Bio       string
	Topics    string
	Style     string
	Timeline  string
	MaxLength int
}

// NewPost produces one publishable post string bounded to the platform
// character limit, preferring sentence boundary cuts
func (g *Generator) NewPost(ctx context.Context, timeline []posts.TimelineEntry) (string, error) {
	prompt, err := g.renderContext(timeline)
	if err != nil {
		const msg = "unable to render prompt context"
		g.logger.Error(msg, zap.Error(err))
		return "", fmt.Errorf(msg+": %w", err)
	}

	raw, err := g.completer.Complete(ctx, systemDirectives, prompt)
	if err != nil {
		const msg = "unable to generate post text"
		g.logger.Error(msg, zap.Error(err))
		return "", fmt.Errorf(msg+": %w", err)
	}

	text := strings.TrimSpace(posts.NormalizeNewlines(raw))
	if text == "" {
		return "", posts.ErrEmptyPost
	}

	text = posts.TruncateToCompleteSentence(text, posts.MaxPostLength)

	g.logger.Debug("generated post", zap.Int("length", len([]rune(text))))

	return text, nil
}

func (g *Generator) renderContext(timeline []posts.TimelineEntry) (string, error) {
	tctx := templateContext{
		AgentName: g.character.Name,
		Username:  g.character.Username,
		Bio:       strings.Join(g.character.Bio, " "),
		Topics:    strings.Join(g.character.Topics, ", "),
		Style:     strings.Join(append(g.character.Adjectives, g.character.Style...), ", "),
		Timeline:  FormatTimeline(timeline),
		MaxLength: posts.MaxPostLength,
	}

	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, tctx); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// FormatTimeline renders the cached timeline entries as prompt text,
// oldest first
func FormatTimeline(entries []posts.TimelineEntry) string {
	if len(entries) == 0 {
		return "(no recent posts)"
	}

	lines := make([]string, 0, len(entries))
	for i := range entries {
		line := "@" + entries[i].Author + ": " + entries[i].Text
		if entries[i].InReplyTo != "" {
			line += " (in reply to " + entries[i].InReplyTo + ")"
		}
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}
