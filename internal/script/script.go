// ABOUTME: Fixed conversation script: ordered questions plus message templates
// ABOUTME: Loaded once at startup from YAML or TOML, or taken from the built-in default

package script

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Question is one scripted question and the answer field it fills.
type Question struct {
	Field string `yaml:"field" toml:"field"`
	Text  string `yaml:"text" toml:"text"`
}

// Messages holds the templates rendered with the lead's name.
type Messages struct {
	Greeting   string `yaml:"greeting" toml:"greeting"`
	Declined   string `yaml:"declined" toml:"declined"`
	FollowUp   string `yaml:"follow_up" toml:"follow_up"`
	Completion string `yaml:"completion" toml:"completion"`
}

// Script is immutable once loaded.
type Script struct {
	Questions []Question `yaml:"questions" toml:"questions"`
	Messages  Messages   `yaml:"messages" toml:"messages"`

	greeting   *template.Template
	declined   *template.Template
	followUp   *template.Template
	completion *template.Template
}

// Default returns the built-in qualification script.
func Default() *Script {
	s := &Script{
		Questions: []Question{
			{Field: "age", Text: "What is your age?"},
			{Field: "country", Text: "Which country are you from?"},
			{Field: "interest", Text: "What product or service are you interested in?"},
		},
		Messages: Messages{
			Greeting:   "Hey {{.Name}}, thank you for filling out the form. I'd like to gather some information from you. Is that okay?",
			Declined:   "Alright, no problem. Have a great day!",
			FollowUp:   "Just checking in to see if you're still interested. Let me know when you're ready to continue.",
			Completion: "Thank you for the information! We'll be in touch soon.",
		},
	}
	if err := s.compile(); err != nil {
		panic(fmt.Sprintf("default script: %v", err))
	}
	return s
}

// Load reads a script from path. The format is chosen by extension:
// .yaml/.yml or .toml. ${VAR} references are expanded from the environment.
// Messages left empty fall back to the defaults.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script file: %w", err)
	}
	expanded := expandEnvVars(string(data))

	var s Script
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), &s); err != nil {
			return nil, fmt.Errorf("parsing script file: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(expanded, &s); err != nil {
			return nil, fmt.Errorf("parsing script file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported script format %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}

	s.fillDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validating script: %w", err)
	}
	if err := s.compile(); err != nil {
		return nil, fmt.Errorf("compiling script templates: %w", err)
	}
	return &s, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(re.FindStringSubmatch(match)[1])
	})
}

func (s *Script) fillDefaults() {
	def := Default().Messages
	if s.Messages.Greeting == "" {
		s.Messages.Greeting = def.Greeting
	}
	if s.Messages.Declined == "" {
		s.Messages.Declined = def.Declined
	}
	if s.Messages.FollowUp == "" {
		s.Messages.FollowUp = def.FollowUp
	}
	if s.Messages.Completion == "" {
		s.Messages.Completion = def.Completion
	}
}

// Validate checks the question list.
func (s *Script) Validate() error {
	if len(s.Questions) == 0 {
		return errors.New("at least one question is required")
	}
	seen := make(map[string]bool, len(s.Questions))
	for i, q := range s.Questions {
		if strings.TrimSpace(q.Field) == "" {
			return fmt.Errorf("questions[%d]: field is required", i)
		}
		if strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("questions[%d]: text is required", i)
		}
		if seen[q.Field] {
			return fmt.Errorf("questions[%d]: duplicate field %q", i, q.Field)
		}
		seen[q.Field] = true
	}
	return nil
}

func (s *Script) compile() error {
	var err error
	if s.greeting, err = parse("greeting", s.Messages.Greeting); err != nil {
		return err
	}
	if s.declined, err = parse("declined", s.Messages.Declined); err != nil {
		return err
	}
	if s.followUp, err = parse("follow_up", s.Messages.FollowUp); err != nil {
		return err
	}
	if s.completion, err = parse("completion", s.Messages.Completion); err != nil {
		return err
	}
	return nil
}

// parse compiles a message template and dry-runs it so unknown fields are
// reported at load time rather than mid-conversation.
func parse(name, text string) (*template.Template, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := t.Execute(io.Discard, templateData{Name: "x"}); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return t, nil
}

type templateData struct {
	Name string
}

// Len returns the number of questions.
func (s *Script) Len() int {
	return len(s.Questions)
}

// Fields returns the answer field names in question order.
func (s *Script) Fields() []string {
	fields := make([]string, len(s.Questions))
	for i, q := range s.Questions {
		fields[i] = q.Field
	}
	return fields
}

// Question returns the question at index i.
func (s *Script) Question(i int) (Question, bool) {
	if i < 0 || i >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[i], true
}

func (s *Script) Greeting(name string) string   { return render(s.greeting, name) }
func (s *Script) Declined(name string) string   { return render(s.declined, name) }
func (s *Script) FollowUp(name string) string   { return render(s.followUp, name) }
func (s *Script) Completion(name string) string { return render(s.completion, name) }

// render executes t for name. Templates were dry-run at load, so a failure
// here falls back to the raw template text.
func render(t *template.Template, name string) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, templateData{Name: name}); err != nil {
		return t.Root.String()
	}
	return buf.String()
}
