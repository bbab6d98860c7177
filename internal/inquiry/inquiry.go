// Package inquiry tracks sales-lead conversations from unknown senders.
//
// An inquiry is keyed by phone tail. At most one open inquiry exists per tail;
// it is created lazily on the first commercial message and only its counter,
// timestamp and linked email change afterwards. Closing is an administrative
// action outside this package.
package inquiry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/google/uuid"
)

// TurnsPerExchange is added to the inquiry counter for every user/assistant pair.
const TurnsPerExchange = 2

// ErrIntentMismatch is returned when the open inquiry for a tail was opened with another intent.
var ErrIntentMismatch = errors.New("open inquiry has a different intent")

// infoPattern marks commercial or informational intent, matched on the
// lower-cased message. Word boundaries keep "costante", "informatica",
// "pagina" and "inscritto" out.
var infoPattern = regexp.MustCompile(`\b(` + strings.Join([]string{
	// italiano
	`prezz[oi]`, `cost[oi]`, `quanto cost\w*`, `quanto viene`, `tariff\w*`,
	`abbonament\w*`, `iscri\w*`, `pacchett\w*`, `come funziona`,
	`info`, `informazion\w*`, `prova gratuita`, `periodo di prova`, `scont[oi]`,
	`offert\w*`, `pagament\w*`, `pag(a|o|hi|ate|ano|are|herei|herebbe)`,
	`quota`, `listino`, `disdi\w*`, `black`,
	// english
	`prices?`, `pricing`, `costs?`, `subscri\w*`, `plans?`, `how does it work`,
	`how much`, `free trial`, `discounts?`, `payments?`, `pay`, `sign(ing)? up`,
	`enrol\w*`,
}, "|") + `)\b`)

// Classify returns IntentInfo when text contains a commercial keyword, IntentAcademic otherwise.
func Classify(text string) models.Intent {
	if infoPattern.MatchString(strings.ToLower(text)) {
		return models.IntentInfo
	}
	return models.IntentAcademic
}

// Store is the persistence the tracker needs.
type Store interface {
	FindOpenInquiry(ctx context.Context, phoneTail string) (*models.InquiryRecord, error)
	CreateInquiry(ctx context.Context, rec models.InquiryRecord) error
	IncrementInquiry(ctx context.Context, id string, delta int, at time.Time) error
	SetInquiryEmail(ctx context.Context, id, email string) error
}

// Tracker is the lead inquiry state machine.
type Tracker struct {
	store Store
	now   func() time.Time
}

// NewTracker creates a Tracker backed by st.
func NewTracker(st Store) *Tracker {
	return &Tracker{store: st, now: time.Now}
}

// Track returns the open inquiry for phoneTail, creating one with intent if none exists.
// An existing open inquiry opened with a different intent yields ErrIntentMismatch
// together with the record.
func (t *Tracker) Track(ctx context.Context, phoneTail string, intent models.Intent) (*models.InquiryRecord, error) {
	existing, err := t.store.FindOpenInquiry(ctx, phoneTail)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open inquiry: %w", err)
	}
	if existing != nil {
		if existing.Intent != intent {
			slog.Debug("Tracker.Track: intent mismatch", "tail", phoneTail, "stored", existing.Intent, "requested", intent)
			return existing, ErrIntentMismatch
		}
		return existing, nil
	}

	now := t.now()
	rec := models.InquiryRecord{
		ID:        uuid.NewString(),
		PhoneTail: phoneTail,
		Intent:    intent,
		Status:    models.InquiryOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.store.CreateInquiry(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create inquiry: %w", err)
	}
	slog.Info("Tracker.Track: opened inquiry", "id", rec.ID, "tail", phoneTail, "intent", intent)
	return &rec, nil
}

// RecordExchange bumps the counter by one user and one assistant turn.
func (t *Tracker) RecordExchange(ctx context.Context, id string) error {
	if err := t.store.IncrementInquiry(ctx, id, TurnsPerExchange, t.now()); err != nil {
		return fmt.Errorf("failed to increment inquiry %s: %w", id, err)
	}
	return nil
}

// LinkEmail attaches email to the open inquiry for phoneTail, if there is one.
func (t *Tracker) LinkEmail(ctx context.Context, phoneTail, email string) error {
	existing, err := t.store.FindOpenInquiry(ctx, phoneTail)
	if err != nil {
		return fmt.Errorf("failed to look up open inquiry: %w", err)
	}
	if existing == nil {
		return nil
	}
	if err := t.store.SetInquiryEmail(ctx, existing.ID, email); err != nil {
		return fmt.Errorf("failed to set inquiry email: %w", err)
	}
	slog.Debug("Tracker.LinkEmail: email attached", "id", existing.ID, "tail", phoneTail)
	return nil
}
