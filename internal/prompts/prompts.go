// Package prompts renders the stage prompts sent to the LLM.
//
// Templates use text/template. Built-in defaults can be overridden per
// prompt from a YAML file, which Store reloads when it changes.
package prompts

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Kind names one prompt template.
type Kind string

const (
	KindQueen          Kind = "queen"
	KindResearch       Kind = "research"
	KindImplementation Kind = "implementation"
	KindAssistant      Kind = "assistant"
)

// Data is the context available to every template.
type Data struct {
	// Prompt is the user's original request.
	Prompt string
	// Context is optional extra context for the queen.
	Context string
	// Analysis is the queen's output, set from the research stage on.
	Analysis string
	// Research is the research agent's output, set for the implementation stage.
	Research string
}

// Set holds raw template text. Empty fields use the default.
type Set struct {
	Queen          string `yaml:"queen"`
	Research       string `yaml:"research"`
	Implementation string `yaml:"implementation"`
	Assistant      string `yaml:"assistant"`
}

const defaultQueen = `You are the Queen Agent - the orchestrator of a multi-agent AI system. You coordinate between Research and Implementation agents to provide comprehensive solutions.

{{if .Context}}Context from previous agents: {{.Context}}{{end}}

User command: "{{.Prompt}}"

Your role: Analyze the request, decide what research is needed, and coordinate the final implementation. Be authoritative yet helpful as the lead agent.`

const defaultResearch = `You are the Research Agent - a specialized AI focused on gathering information, analyzing requirements, and providing detailed research findings.

Queen Agent's Analysis: "{{.Analysis}}"
Original Request: "{{.Prompt}}"

Your mission: Conduct thorough research on this topic. Provide detailed findings, best practices, relevant technologies, potential approaches, and any important considerations. Focus on gathering comprehensive information that will inform implementation decisions.`

const defaultImplementation = `You are the Implementation Agent - a specialized AI focused on creating actionable solutions, code, and step-by-step implementation plans.

Queen Agent's Analysis: "{{.Analysis}}"
Research Agent's Findings: "{{.Research}}"
Original Request: "{{.Prompt}}"

Your mission: Create a detailed implementation plan based on the research findings. Provide specific steps, code examples if applicable, configurations, and actionable guidance. Focus on practical execution and real-world application.`

const defaultAssistant = `You are a Queen Agent AI assistant with access to enterprise tools and memory systems. You manage and orchestrate AI operations with sophisticated decision-making capabilities.

User command: "{{.Prompt}}"

Please provide a helpful response as the Queen Agent. Be concise but informative, and maintain the persona of a sophisticated AI agent managing systems and operations. Respond in a professional yet approachable tone.`

// Defaults returns the built-in templates.
func Defaults() Set {
	return Set{
		Queen:          defaultQueen,
		Research:       defaultResearch,
		Implementation: defaultImplementation,
		Assistant:      defaultAssistant,
	}
}

// Templates is a compiled, immutable set of prompt templates.
type Templates struct {
	byKind map[Kind]*template.Template
}

// Compile parses every template in s, falling back to defaults for empty fields.
func Compile(s Set) (*Templates, error) {
	d := Defaults()
	raw := map[Kind]string{
		KindQueen:          firstNonEmpty(s.Queen, d.Queen),
		KindResearch:       firstNonEmpty(s.Research, d.Research),
		KindImplementation: firstNonEmpty(s.Implementation, d.Implementation),
		KindAssistant:      firstNonEmpty(s.Assistant, d.Assistant),
	}

	t := &Templates{byKind: make(map[Kind]*template.Template, len(raw))}
	for kind, text := range raw {
		tmpl, err := template.New(string(kind)).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse %s prompt: %w", kind, err)
		}
		t.byKind[kind] = tmpl
	}
	return t, nil
}

// MustDefault compiles the built-in templates.
func MustDefault() *Templates {
	t, err := Compile(Defaults())
	if err != nil {
		panic(err)
	}
	return t
}

// Render executes the template for kind.
func (t *Templates) Render(kind Kind, data Data) (string, error) {
	tmpl, ok := t.byKind[kind]
	if !ok {
		return "", fmt.Errorf("unknown prompt kind %q", kind)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", kind, err)
	}
	return buf.String(), nil
}

// LoadFile reads a YAML prompt override file.
func LoadFile(path string) (Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("read prompts file: %w", err)
	}
	var s Set
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Set{}, fmt.Errorf("parse prompts file %s: %w", path, err)
	}
	return s, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
