// Package contact resolves inbound phone numbers to identities.
//
// Sources are consulted in priority order: the paid-student table, then the
// generic account-profile table. When neither matches, callers build a guest
// contact from the display name and raw phone the transport supplied.
package contact

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/BTreeMap/StudyPipe/internal/phone"
)

// Lookup is the subset of the store the resolver reads from.
type Lookup interface {
	FindStudentByPhoneTail(ctx context.Context, tail string) (*models.Student, error)
	FindProfileByPhoneTail(ctx context.Context, tail string) (*models.Profile, error)
}

// Resolver maps phone numbers to contacts. It holds no per-request state and
// never caches results.
type Resolver struct {
	lookup Lookup
}

// NewResolver creates a Resolver over the given lookup.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve returns the contact for rawPhone, or (nil, nil) when the number is
// too short to carry a tail or no source matches. Store errors are returned
// unchanged in meaning so the caller can decide to fall back to a guest.
func (r *Resolver) Resolve(ctx context.Context, rawPhone string) (*models.Contact, error) {
	tail, ok := phone.Tail(rawPhone)
	if !ok {
		slog.Debug("Resolver.Resolve: no usable phone tail")
		return nil, nil
	}

	st, err := r.lookup.FindStudentByPhoneTail(ctx, tail)
	if err != nil {
		return nil, fmt.Errorf("paid-student lookup failed: %w", err)
	}
	if st != nil {
		c := st.Contact()
		slog.Debug("Resolver.Resolve: matched paid student", "tail", tail, "studentID", st.ID, "isBlack", c.IsBlack)
		return c, nil
	}

	p, err := r.lookup.FindProfileByPhoneTail(ctx, tail)
	if err != nil {
		return nil, fmt.Errorf("profile lookup failed: %w", err)
	}
	if p != nil {
		c := p.Contact()
		slog.Debug("Resolver.Resolve: matched generic profile", "tail", tail, "userID", p.UserID, "isBlack", c.IsBlack)
		return c, nil
	}

	slog.Debug("Resolver.Resolve: no match", "tail", tail)
	return nil, nil
}

// Guest builds the fallback contact for an unresolved sender. Guests are never Black.
func Guest(subscriberName, rawPhone string) *models.Contact {
	return &models.Contact{
		FullName: strings.TrimSpace(subscriberName),
		Phone:    strings.TrimSpace(rawPhone),
		IsBlack:  false,
		Source:   models.SourceFallbackGuest,
	}
}
