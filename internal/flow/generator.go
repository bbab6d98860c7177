package flow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/StudyPipe/internal/genai"
	"github.com/BTreeMap/StudyPipe/internal/models"
)

// Persona selects the system prompt a reply is generated with.
type Persona string

const (
	// PersonaTutor answers subscribers' study questions.
	PersonaTutor Persona = "tutor"
	// PersonaSales answers prospects' commercial questions.
	PersonaSales Persona = "sales"
)

// GenerateInput is everything needed to produce one reply.
type GenerateInput struct {
	Persona     Persona
	Contact     *models.Contact
	DisplayName string
	Message     string
	// History is the windowed thread, oldest first, excluding the current message.
	History      []models.ConversationMessage
	ImageDataURI string
}

// Generator produces reply text.
type Generator interface {
	Generate(ctx context.Context, in GenerateInput) (string, error)
}

// modelNamer is implemented by generators that can report which model a request will use.
type modelNamer interface {
	ModelFor(hasImage bool) string
}

// GeneratorOption configures a ReplyGenerator.
type GeneratorOption func(*ReplyGenerator)

// WithTutorPromptFile loads the tutor persona from path.
func WithTutorPromptFile(path string) GeneratorOption {
	return func(g *ReplyGenerator) { g.tutorPromptFile = path }
}

// WithSalesPromptFile loads the sales persona from path.
func WithSalesPromptFile(path string) GeneratorOption {
	return func(g *ReplyGenerator) { g.salesPromptFile = path }
}

// ReplyGenerator builds prompts from the contact, its notes and the thread, and calls the LLM.
type ReplyGenerator struct {
	client          genai.ClientInterface
	tutorPrompt     string
	salesPrompt     string
	tutorPromptFile string
	salesPromptFile string
}

// NewReplyGenerator creates a generator with the built-in personas. Call
// LoadSystemPrompts to apply configured prompt files.
func NewReplyGenerator(client genai.ClientInterface, opts ...GeneratorOption) *ReplyGenerator {
	g := &ReplyGenerator{
		client:      client,
		tutorPrompt: defaultTutorPersona,
		salesPrompt: defaultSalesPersona,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// LoadSystemPrompts replaces the built-in personas with the configured files.
// A missing file keeps the built-in persona; an unreadable one is an error.
func (g *ReplyGenerator) LoadSystemPrompts() error {
	var err error
	if g.tutorPrompt, err = loadPrompt(g.tutorPromptFile, g.tutorPrompt); err != nil {
		return err
	}
	if g.salesPrompt, err = loadPrompt(g.salesPromptFile, g.salesPrompt); err != nil {
		return err
	}
	return nil
}

func loadPrompt(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Warn("ReplyGenerator.LoadSystemPrompts: prompt file does not exist, using built-in persona", "file", path)
		return fallback, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		slog.Error("ReplyGenerator.LoadSystemPrompts: failed to read prompt file", "file", path, "error", err)
		return fallback, fmt.Errorf("failed to read prompt file: %w", err)
	}
	prompt := strings.TrimSpace(string(content))
	if prompt == "" {
		slog.Warn("ReplyGenerator.LoadSystemPrompts: prompt file is empty, using built-in persona", "file", path)
		return fallback, nil
	}
	slog.Info("ReplyGenerator.LoadSystemPrompts: prompt loaded", "file", path, "length", len(prompt))
	return prompt, nil
}

// ModelFor reports the model a request will run on, when the client exposes it.
func (g *ReplyGenerator) ModelFor(hasImage bool) string {
	named, ok := g.client.(interface {
		TextModel() string
		VisionModel() string
	})
	if !ok {
		return ""
	}
	if hasImage {
		return named.VisionModel()
	}
	return named.TextModel()
}

// Generate produces the reply text. Empty completions are returned as errors by the client.
func (g *ReplyGenerator) Generate(ctx context.Context, in GenerateInput) (string, error) {
	req := genai.Request{
		SystemPrompt: g.SystemPrompt(in),
		History:      replayHistory(in.History),
		UserText:     strings.TrimSpace(in.Message),
		ImageDataURI: in.ImageDataURI,
	}
	resp, err := g.client.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("reply generation failed: %w", err)
	}
	slog.Debug("ReplyGenerator.Generate: reply generated", "persona", in.Persona, "model", resp.Model, "historyTurns", len(req.History))
	return resp.Content, nil
}

// SystemPrompt renders persona, contact block and tutor notes.
func (g *ReplyGenerator) SystemPrompt(in GenerateInput) string {
	var b strings.Builder
	if in.Persona == PersonaSales {
		b.WriteString(g.salesPrompt)
	} else {
		b.WriteString(g.tutorPrompt)
	}

	if block := contactBlock(in.Contact, in.DisplayName); block != "" {
		b.WriteString("\n\n")
		b.WriteString(block)
	}
	if in.Contact != nil && strings.TrimSpace(in.Contact.AISummary) != "" {
		b.WriteString("\n\nNote del tutor dalle conversazioni precedenti:\n")
		b.WriteString(strings.TrimSpace(in.Contact.AISummary))
	}
	return b.String()
}

// contactBlock formats the known contact attributes as labeled lines.
func contactBlock(c *models.Contact, displayName string) string {
	name := strings.TrimSpace(displayName)
	var lines []string
	if c != nil {
		if c.FullName != "" {
			name = c.FullName
		}
		if classTrack := joinNonEmpty(" - ", c.YearClass, c.Track); classTrack != "" {
			lines = append(lines, "Classe/indirizzo: "+classTrack)
		}
		if c.Email != "" {
			lines = append(lines, "Email: "+c.Email)
		}
		if c.Phone != "" {
			lines = append(lines, "Telefono: "+c.Phone)
		}
	}
	if name != "" {
		lines = append([]string{"Nome: " + name}, lines...)
	}
	if len(lines) == 0 {
		return ""
	}
	return "Dati del contatto:\n- " + strings.Join(lines, "\n- ")
}

// replayHistory converts stored turns to completion turns, marking prior user turns.
func replayHistory(history []models.ConversationMessage) []genai.Turn {
	turns := make([]genai.Turn, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case models.RoleUser:
			turns = append(turns, genai.Turn{Role: "user", Content: HistoryPrefix + msg.Content})
		case models.RoleAssistant:
			turns = append(turns, genai.Turn{Role: "assistant", Content: msg.Content})
		}
	}
	return turns
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
