// Package flow routes inbound messages to a reply.
//
// Every message is classified from scratch into one of three branches:
// Black subscribers get the AI tutor, known non-subscribers get a fixed
// rejection, and unknown senders enter the lead conversation.
package flow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/contact"
	"github.com/BTreeMap/StudyPipe/internal/inquiry"
	"github.com/BTreeMap/StudyPipe/internal/media"
	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/BTreeMap/StudyPipe/internal/phone"
	"github.com/BTreeMap/StudyPipe/internal/retention"
	"github.com/BTreeMap/StudyPipe/internal/store"
)

// DefaultHistoryWindow is the number of prior turns replayed to the model.
const DefaultHistoryWindow = 20

// persistTimeout bounds the writes and retention that follow generation.
// They run detached from the request context, which may already have expired.
const persistTimeout = 60 * time.Second

// Store is the persistence the router reads and writes.
type Store interface {
	store.ContactStore
	store.ConversationStore
	store.InquiryStore
}

// ContactResolver maps a raw phone to a contact or (nil, nil).
type ContactResolver interface {
	Resolve(ctx context.Context, rawPhone string) (*models.Contact, error)
}

// InquiryTracker is the lead state machine.
type InquiryTracker interface {
	Track(ctx context.Context, phoneTail string, intent models.Intent) (*models.InquiryRecord, error)
	RecordExchange(ctx context.Context, id string) error
	LinkEmail(ctx context.Context, phoneTail, email string) error
}

// RetentionObserver is told the thread length after every assistant turn.
type RetentionObserver interface {
	Observe(ctx context.Context, key models.ThreadKey, count int)
}

// ImageNormalizer turns an image reference into a data URI, or "".
type ImageNormalizer interface {
	Normalize(ctx context.Context, url string) string
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithResolver overrides the contact resolver.
func WithResolver(r ContactResolver) RouterOption {
	return func(rt *Router) { rt.resolver = r }
}

// WithInquiryTracker overrides the lead tracker.
func WithInquiryTracker(t InquiryTracker) RouterOption {
	return func(rt *Router) { rt.inquiries = t }
}

// WithRetention sets the retention observer.
func WithRetention(o RetentionObserver) RouterOption {
	return func(rt *Router) { rt.retention = o }
}

// WithImageNormalizer overrides the image normalizer.
func WithImageNormalizer(n ImageNormalizer) RouterOption {
	return func(rt *Router) { rt.images = n }
}

// WithHistoryWindow sets how many prior turns are replayed.
func WithHistoryWindow(n int) RouterOption {
	return func(rt *Router) {
		if n > 0 {
			rt.historyWindow = n
		}
	}
}

// WithCountryCode sets the country code assumed for national numbers when linking an email.
func WithCountryCode(cc string) RouterOption {
	return func(rt *Router) {
		if cc = phone.Digits(cc); cc != "" {
			rt.countryCode = cc
		}
	}
}

// Router is the conversation orchestrator. It holds only injected clients and
// is safe for concurrent use; concurrent messages from one sender are not serialized.
type Router struct {
	store         Store
	generator     Generator
	resolver      ContactResolver
	inquiries     InquiryTracker
	retention     RetentionObserver
	images        ImageNormalizer
	historyWindow int
	countryCode   string
}

// NewRouter creates a Router. Resolver, tracker, retention and normalizer
// default to the standard implementations over st.
func NewRouter(st Store, gen Generator, opts ...RouterOption) *Router {
	r := &Router{
		store:         st,
		generator:     gen,
		historyWindow: DefaultHistoryWindow,
		countryCode:   phone.DefaultCountryCode,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.resolver == nil {
		r.resolver = contact.NewResolver(st)
	}
	if r.inquiries == nil {
		r.inquiries = inquiry.NewTracker(st)
	}
	if r.retention == nil {
		r.retention = retention.NewManager(st, nil)
	}
	if r.images == nil {
		r.images = media.NewNormalizer()
	}
	return r
}

// Handle produces the reply for one inbound message. It never fails: every
// error path degrades to a fixed text.
func (r *Router) Handle(ctx context.Context, msg models.InboundMessage) models.Reply {
	tail, hasTail := phone.Tail(msg.RawPhone)

	c, err := r.resolver.Resolve(ctx, msg.RawPhone)
	if err != nil {
		slog.Error("Router.Handle: contact resolution failed, treating as guest", "tail", tail, "error", err)
		c = nil
	}
	if c == nil {
		c = contact.Guest(msg.SubscriberName, msg.RawPhone)
	}

	if msg.Validate() != nil {
		slog.Info("Router.Handle: message has no text or image", "tail", tail, "source", c.Source)
		branchTotal.WithLabelValues(branchUnsupported).Inc()
		return models.Reply{ReplyText: UnsupportedContentText, IsBlackSubscriber: c.IsBlack}
	}

	switch {
	case c.IsBlack:
		return r.tutor(ctx, msg, c, tail)
	case !c.IsGuest():
		slog.Info("Router.Handle: known non-subscriber rejected", "tail", tail, "source", c.Source)
		branchTotal.WithLabelValues(branchRejected).Inc()
		return models.Reply{ReplyText: RejectionText, IsBlackSubscriber: false}
	default:
		return r.lead(ctx, msg, tail, hasTail)
	}
}

// tutor is the Black-subscriber path: full history, tutor persona, retention.
func (r *Router) tutor(ctx context.Context, msg models.InboundMessage, c *models.Contact, tail string) models.Reply {
	branchTotal.WithLabelValues(branchTutor).Inc()
	key := models.ThreadFor(c, tail)

	imageURI := ""
	if msg.HasImage() {
		imageURI = r.images.Normalize(ctx, msg.ImageURL)
	}

	text := r.converse(ctx, key, msg, PersonaTutor, c, imageURI)
	return models.Reply{ReplyText: text, IsBlackSubscriber: true}
}

// converse reads the window, logs the user turn, generates, logs the assistant
// turn and runs retention. Generation failures yield ApologyText, which is still logged.
func (r *Router) converse(ctx context.Context, key models.ThreadKey, msg models.InboundMessage, persona Persona, c *models.Contact, imageURI string) string {
	logger := slog.With("thread", key.String(), "persona", persona)

	var history []models.ConversationMessage
	if key.Valid() {
		var err error
		history, err = r.store.RecentMessages(ctx, key, r.historyWindow)
		if err != nil {
			logger.Error("Router.converse: history read failed", "error", err)
			history = nil
		}
	}

	userText := strings.TrimSpace(msg.MessageText)
	content := userText
	if content == "" {
		content = ImagePlaceholder
	}
	r.logTurn(ctx, key, models.RoleUser, content, models.MessageMeta{
		SubscriberName: msg.SubscriberName,
		HasImage:       msg.HasImage(),
		Branch:         string(persona),
	})

	prompt := userText
	if prompt == "" && imageURI == "" {
		prompt = ImagePlaceholder
	}
	reply, err := r.generator.Generate(ctx, GenerateInput{
		Persona:      persona,
		Contact:      c,
		DisplayName:  msg.SubscriberName,
		Message:      prompt,
		History:      history,
		ImageDataURI: imageURI,
	})
	meta := models.MessageMeta{Branch: string(persona)}
	if named, ok := r.generator.(modelNamer); ok {
		meta.Model = named.ModelFor(imageURI != "")
	}
	if err != nil {
		logger.Error("Router.converse: generation failed, sending apology", "error", err)
		fallbackTotal.WithLabelValues(string(persona)).Inc()
		reply = ApologyText
		meta.Error = err.Error()
	}
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	r.logTurn(persistCtx, key, models.RoleAssistant, reply, meta)

	if key.Valid() {
		count, err := r.store.CountMessages(persistCtx, key)
		if err != nil {
			logger.Error("Router.converse: count failed, skipping retention", "error", err)
		} else {
			r.retention.Observe(persistCtx, key, count)
		}
	}
	return reply
}

// logTurn writes one turn; failures are logged and never block the reply.
func (r *Router) logTurn(ctx context.Context, key models.ThreadKey, role models.Role, content string, meta models.MessageMeta) {
	if !key.Valid() {
		slog.Warn("Router.logTurn: no thread key, turn not stored", "role", role)
		return
	}
	_, err := r.store.InsertMessage(ctx, models.ConversationMessage{
		Thread:  key,
		Role:    role,
		Content: content,
		Meta:    meta,
	})
	if err != nil {
		slog.Error("Router.logTurn: insert failed", "thread", key.String(), "role", role, "error", err)
	}
}
