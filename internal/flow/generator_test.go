package flow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BTreeMap/StudyPipe/internal/genai"
	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockGenAIClient records Complete requests.
type mockGenAIClient struct {
	content string
	err     error
	reqs    []genai.Request
}

func (m *mockGenAIClient) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return m.content, m.err
}

func (m *mockGenAIClient) Complete(ctx context.Context, req genai.Request) (*genai.Response, error) {
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return nil, m.err
	}
	model := "text"
	if req.ImageDataURI != "" {
		model = "vision"
	}
	return &genai.Response{Content: m.content, Model: model}, nil
}

func (m *mockGenAIClient) TextModel() string   { return "text" }
func (m *mockGenAIClient) VisionModel() string { return "vision" }

func TestGenerate_BuildsPromptAndHistory(t *testing.T) {
	client := &mockGenAIClient{content: "Certo!"}
	g := NewReplyGenerator(client)

	out, err := g.Generate(context.Background(), GenerateInput{
		Persona: PersonaTutor,
		Contact: &models.Contact{
			FullName: "Marta Rossi", Email: "marta@example.com", Phone: "+393331234567",
			YearClass: "4", Track: "Liceo Scientifico", AISummary: "Fatica con le derivate.",
		},
		Message: "  e il limite?  ",
		History: []models.ConversationMessage{
			{Role: models.RoleUser, Content: "cos'è una derivata?"},
			{Role: models.RoleAssistant, Content: "È il tasso di variazione."},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Certo!", out)

	req := client.reqs[0]
	assert.True(t, strings.HasPrefix(req.SystemPrompt, defaultTutorPersona))
	assert.Contains(t, req.SystemPrompt, "Nome: Marta Rossi")
	assert.Contains(t, req.SystemPrompt, "Classe/indirizzo: 4 - Liceo Scientifico")
	assert.Contains(t, req.SystemPrompt, "Email: marta@example.com")
	assert.Contains(t, req.SystemPrompt, "Telefono: +393331234567")
	assert.Contains(t, req.SystemPrompt, "Note del tutor dalle conversazioni precedenti:\nFatica con le derivate.")

	require.Len(t, req.History, 2)
	assert.Equal(t, genai.Turn{Role: "user", Content: HistoryPrefix + "cos'è una derivata?"}, req.History[0])
	assert.Equal(t, genai.Turn{Role: "assistant", Content: "È il tasso di variazione."}, req.History[1])
	assert.Equal(t, "e il limite?", req.UserText)
}

func TestGenerate_SalesPersonaForGuest(t *testing.T) {
	client := &mockGenAIClient{content: "Ciao Anna!"}
	g := NewReplyGenerator(client)

	_, err := g.Generate(context.Background(), GenerateInput{
		Persona:     PersonaSales,
		Contact:     &models.Contact{Source: models.SourceFallbackGuest},
		DisplayName: "Anna",
		Message:     "quanto costa?",
	})
	require.NoError(t, err)

	prompt := client.reqs[0].SystemPrompt
	assert.True(t, strings.HasPrefix(prompt, defaultSalesPersona))
	assert.Contains(t, prompt, "Nome: Anna")
	assert.NotContains(t, prompt, "Note del tutor")
}

func TestGenerate_PropagatesErrors(t *testing.T) {
	g := NewReplyGenerator(&mockGenAIClient{err: genai.ErrEmptyCompletion})
	_, err := g.Generate(context.Background(), GenerateInput{Persona: PersonaTutor, Message: "x"})
	assert.True(t, errors.Is(err, genai.ErrEmptyCompletion))
}

func TestGenerate_PassesImage(t *testing.T) {
	client := &mockGenAIClient{content: "Vedo un grafico"}
	g := NewReplyGenerator(client)
	_, err := g.Generate(context.Background(), GenerateInput{Persona: PersonaTutor, ImageDataURI: "data:image/png;base64,AAAA"})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AAAA", client.reqs[0].ImageDataURI)
	assert.Equal(t, "vision", g.ModelFor(true))
	assert.Equal(t, "text", g.ModelFor(false))
}

func TestLoadSystemPrompts(t *testing.T) {
	dir := t.TempDir()
	tutorFile := filepath.Join(dir, "tutor.txt")
	require.NoError(t, os.WriteFile(tutorFile, []byte("  Persona tutor personalizzata.\n"), 0o644))

	g := NewReplyGenerator(&mockGenAIClient{},
		WithTutorPromptFile(tutorFile),
		WithSalesPromptFile(filepath.Join(dir, "missing.txt")),
	)
	require.NoError(t, g.LoadSystemPrompts())

	assert.Equal(t, "Persona tutor personalizzata.", g.SystemPrompt(GenerateInput{Persona: PersonaTutor}))
	assert.Equal(t, defaultSalesPersona, g.SystemPrompt(GenerateInput{Persona: PersonaSales}))
}

func TestContactBlock(t *testing.T) {
	assert.Empty(t, contactBlock(nil, ""))
	assert.Equal(t, "Dati del contatto:\n- Nome: Anna", contactBlock(nil, " Anna "))
	assert.Equal(t, "Dati del contatto:\n- Nome: Luca\n- Classe/indirizzo: Tecnico",
		contactBlock(&models.Contact{FullName: "Luca", Track: "Tecnico"}, "lucaB"))
}
