// Package retention bounds conversation threads.
//
// After every assistant turn the router reports the thread's new length. Once
// a thread grows past the threshold its oldest messages are folded into the
// student's running summary (student threads only) and then deleted.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/StudyPipe/internal/models"
)

// Default cycle sizes.
const (
	DefaultThreshold = 70
	DefaultFetchSize = 70
	DefaultPruneSize = 50
)

// summarySystemPrompt instructs the model to merge notes. Output stays in Italian.
const summarySystemPrompt = `Sei l'assistente di un servizio di tutoraggio. Ricevi le note esistenti su uno studente e una trascrizione recente.
Unisci le informazioni in una nota aggiornata di 4-6 frasi, in italiano, in terza persona.
Conserva argomenti studiati, difficoltà ricorrenti, progressi, preferenze di studio e scadenze (verifiche, esami).
Non includere saluti, dati di contatto o dettagli irrilevanti. Rispondi solo con la nota.`

// Store is the persistence the manager needs.
type Store interface {
	OldestMessages(ctx context.Context, key models.ThreadKey, limit int) ([]models.ConversationMessage, error)
	DeleteOldestMessages(ctx context.Context, key models.ThreadKey, n int) (int, error)
	GetStudentSummary(ctx context.Context, studentID string) (summary, fullName string, err error)
	UpdateStudentSummary(ctx context.Context, studentID, summary string) error
}

// Summarizer produces the merged note.
type Summarizer interface {
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Opts configures a Manager.
type Opts struct {
	Threshold int
	FetchSize int
	PruneSize int
}

// Option configures a Manager.
type Option func(*Opts)

// WithThreshold sets the message count above which a cycle runs.
func WithThreshold(n int) Option {
	return func(o *Opts) { o.Threshold = n }
}

// WithFetchSize sets how many of the oldest messages are summarized.
func WithFetchSize(n int) Option {
	return func(o *Opts) { o.FetchSize = n }
}

// WithPruneSize sets how many of the oldest messages are deleted.
func WithPruneSize(n int) Option {
	return func(o *Opts) { o.PruneSize = n }
}

// Manager runs summarize-then-prune cycles.
type Manager struct {
	store      Store
	summarizer Summarizer
	threshold  int
	fetchSize  int
	pruneSize  int
}

// NewManager creates a Manager. summarizer may be nil, in which case threads are pruned without summaries.
func NewManager(st Store, summarizer Summarizer, opts ...Option) *Manager {
	cfg := Opts{Threshold: DefaultThreshold, FetchSize: DefaultFetchSize, PruneSize: DefaultPruneSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{
		store:      st,
		summarizer: summarizer,
		threshold:  cfg.Threshold,
		fetchSize:  cfg.FetchSize,
		pruneSize:  cfg.PruneSize,
	}
}

// Observe runs one cycle when count exceeds the threshold. Failures are logged;
// a summary failure never blocks pruning and a pruning failure is retried on the next call.
func (m *Manager) Observe(ctx context.Context, key models.ThreadKey, count int) {
	if count <= m.threshold {
		return
	}
	slog.Info("Manager.Observe: retention cycle", "thread", key.String(), "count", count)

	if key.IsStudent() {
		if err := m.summarize(ctx, key); err != nil {
			slog.Error("Manager.Observe: summarization failed", "thread", key.String(), "error", err)
		}
	}

	deleted, err := m.store.DeleteOldestMessages(ctx, key, m.pruneSize)
	if err != nil {
		slog.Error("Manager.Observe: pruning failed", "thread", key.String(), "error", err)
		return
	}
	slog.Info("Manager.Observe: pruned", "thread", key.String(), "deleted", deleted)
}

func (m *Manager) summarize(ctx context.Context, key models.ThreadKey) error {
	if m.summarizer == nil {
		return nil
	}
	oldest, err := m.store.OldestMessages(ctx, key, m.fetchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch oldest messages: %w", err)
	}
	if len(oldest) == 0 {
		return nil
	}
	existing, name, err := m.store.GetStudentSummary(ctx, key.Value)
	if err != nil {
		return fmt.Errorf("failed to read existing summary: %w", err)
	}

	summary, err := m.summarizer.GeneratePromptWithContext(ctx, summarySystemPrompt, summaryPrompt(name, existing, oldest))
	if err != nil {
		return fmt.Errorf("summary generation failed: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return fmt.Errorf("summary generation returned empty text")
	}
	if err := m.store.UpdateStudentSummary(ctx, key.Value, summary); err != nil {
		return fmt.Errorf("failed to persist summary: %w", err)
	}
	slog.Debug("Manager.summarize: summary updated", "thread", key.String(), "chars", len(summary))
	return nil
}

// summaryPrompt renders the existing note and the transcript for the summarizer.
func summaryPrompt(name, existing string, msgs []models.ConversationMessage) string {
	var b strings.Builder
	if name != "" {
		fmt.Fprintf(&b, "Studente: %s\n\n", name)
	}
	b.WriteString("Note esistenti:\n")
	if strings.TrimSpace(existing) == "" {
		b.WriteString("(nessuna)\n")
	} else {
		b.WriteString(strings.TrimSpace(existing))
		b.WriteString("\n")
	}
	b.WriteString("\nTrascrizione:\n")
	for _, msg := range msgs {
		speaker := "Studente"
		if msg.Role == models.RoleAssistant {
			speaker = "Tutor"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, strings.TrimSpace(msg.Content))
	}
	return b.String()
}
