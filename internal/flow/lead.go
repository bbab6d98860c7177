package flow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/BTreeMap/StudyPipe/internal/inquiry"
	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/BTreeMap/StudyPipe/internal/phone"
)

// lead is the unknown-sender path: email linking, then commercial conversation.
func (r *Router) lead(ctx context.Context, msg models.InboundMessage, tail string, hasTail bool) models.Reply {
	if email := phone.ExtractEmail(msg.MessageText); email != "" {
		return r.linkEmail(ctx, msg, email, tail, hasTail)
	}

	if !hasTail {
		slog.Info("Router.lead: no usable phone number")
		branchTotal.WithLabelValues(branchLeadNoPhone).Inc()
		return models.Reply{ReplyText: NeedPhoneText}
	}

	if inquiry.Classify(msg.MessageText) != models.IntentInfo {
		slog.Info("Router.lead: academic request from unknown number rejected", "tail", tail)
		branchTotal.WithLabelValues(branchLeadAcademic).Inc()
		return models.Reply{ReplyText: RejectionText}
	}

	rec, err := r.inquiries.Track(ctx, tail, models.IntentInfo)
	switch {
	case errors.Is(err, inquiry.ErrIntentMismatch):
		slog.Info("Router.lead: open inquiry has another intent, rejecting", "tail", tail)
		branchTotal.WithLabelValues(branchLeadAcademic).Inc()
		return models.Reply{ReplyText: RejectionText}
	case err != nil:
		slog.Error("Router.lead: inquiry tracking failed, replying without it", "tail", tail, "error", err)
		rec = nil
	}

	branchTotal.WithLabelValues(branchLeadInfo).Inc()
	key := models.PhoneThread(tail)
	guest := &models.Contact{
		FullName: strings.TrimSpace(msg.SubscriberName),
		Phone:    msg.RawPhone,
		Source:   models.SourceFallbackGuest,
	}
	text := r.converse(ctx, key, msg, PersonaSales, guest, "")

	if rec != nil {
		if err := r.inquiries.RecordExchange(context.WithoutCancel(ctx), rec.ID); err != nil {
			slog.Error("Router.lead: inquiry counter update failed", "id", rec.ID, "error", err)
		}
	}
	return models.Reply{ReplyText: text}
}

// linkEmail attaches the sender's number to the paid student owning email. A
// linked Black student is served by the tutor for this same message.
func (r *Router) linkEmail(ctx context.Context, msg models.InboundMessage, email, tail string, hasTail bool) models.Reply {
	st, err := r.store.FindStudentByEmail(ctx, email)
	if err != nil {
		slog.Error("Router.linkEmail: email lookup failed, treating as no match", "error", err)
		st = nil
	}
	if st == nil {
		slog.Info("Router.linkEmail: email not recognized", "tail", tail)
		branchTotal.WithLabelValues(branchLeadEmailUnknown).Inc()
		return models.Reply{ReplyText: EmailNotRecognizedText}
	}

	intl := phone.International(msg.RawPhone, r.countryCode)
	if intl == "" || !hasTail {
		branchTotal.WithLabelValues(branchLeadNoPhone).Inc()
		return models.Reply{ReplyText: NeedPhoneText}
	}

	parent := !strings.EqualFold(st.Email, email) && strings.EqualFold(st.ParentEmail, email)
	if err := r.store.LinkStudentPhone(ctx, st.ID, intl, parent); err != nil {
		slog.Error("Router.linkEmail: linking phone failed", "studentID", st.ID, "error", err)
		return models.Reply{ReplyText: ApologyText}
	}
	slog.Info("Router.linkEmail: phone linked to student", "studentID", st.ID, "tail", tail, "parent", parent)

	if err := r.inquiries.LinkEmail(ctx, tail, email); err != nil {
		slog.Error("Router.linkEmail: attaching email to inquiry failed", "tail", tail, "error", err)
	}

	refreshed, err := r.resolver.Resolve(ctx, intl)
	if err != nil {
		slog.Error("Router.linkEmail: re-resolution failed", "tail", tail, "error", err)
	}
	if refreshed != nil && refreshed.IsBlack {
		return r.tutor(ctx, msg, refreshed, tail)
	}
	branchTotal.WithLabelValues(branchLeadLinked).Inc()
	return models.Reply{ReplyText: LinkedText}
}
