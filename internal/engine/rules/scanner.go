package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carealert/carealert/internal/domain/audit"
	"github.com/carealert/carealert/internal/domain/event"
)

// MissedDose is a scheduled administration that was not recorded in time.
type MissedDose struct {
	SubjectID  uuid.UUID
	Medication string
	DueAt      time.Time
	Location   string
}

// Interaction is a flagged drug-drug interaction on a subject's active
// medication list.
type Interaction struct {
	SubjectID uuid.UUID
	DrugA     string
	DrugB     string
	Severity  event.Severity
	Location  string
}

// ExpiringConsent is a consent record approaching its expiry date.
type ExpiringConsent struct {
	SubjectID uuid.UUID
	Scope     string
	ExpiresAt time.Time
	Location  string
}

// MedicationSource feeds the medication rules. Implementations query the
// medication administration record, which lives outside this engine.
type MedicationSource interface {
	MissedDoses(ctx context.Context, now time.Time) ([]MissedDose, error)
	Interactions(ctx context.Context) ([]Interaction, error)
}

// ConsentSource feeds the consent-expiry rule.
type ConsentSource interface {
	ExpiringConsents(ctx context.Context, within time.Duration) ([]ExpiringConsent, error)
}

// Registry is the slice of the event registry the scanner needs.
type Registry interface {
	ListOpen(ctx context.Context, f event.Filter) []*event.Event
	CountSimilar(ctx context.Context, kind event.Kind, subjectID uuid.UUID, since time.Time) (int, error)
}

// Reporter files events discovered by rule scans.
type Reporter interface {
	Report(ctx context.Context, in event.ReportInput) (*event.Event, error)
}

const (
	// patternThreshold is how many same-kind events for one subject
	// within patternWindow raise a behavioral pattern event.
	patternThreshold = 3
	patternWindow    = 6 * 30 * 24 * time.Hour

	consentLeadTime = 30 * 24 * time.Hour
)

// Scanner periodically evaluates clinical rules and files events for
// what it finds. An open event for the same (subject, kind) suppresses
// re-filing, so a missed dose that nobody has resolved yet does not
// generate a fresh page every scan.
type Scanner struct {
	registry Registry
	reporter Reporter
	meds     MedicationSource // may be nil
	consents ConsentSource    // may be nil
	sink     audit.Sink
	logger   zerolog.Logger
	interval time.Duration

	mu       sync.Mutex
	patterns map[uuid.UUID]time.Time // subject -> last pattern event filed
}

func NewScanner(registry Registry, reporter Reporter, meds MedicationSource, consents ConsentSource, sink audit.Sink, logger zerolog.Logger, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scanner{
		registry: registry,
		reporter: reporter,
		meds:     meds,
		consents: consents,
		sink:     sink,
		logger:   logger,
		interval: interval,
		patterns: make(map[uuid.UUID]time.Time),
	}
}

// Start runs the scan loop until ctx is cancelled.
func (s *Scanner) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce evaluates every rule a single time.
func (s *Scanner) RunOnce(ctx context.Context) {
	now := time.Now().UTC()
	if s.meds != nil {
		s.scanMissedDoses(ctx, now)
		s.scanInteractions(ctx)
	}
	if s.consents != nil {
		s.scanConsents(ctx)
	}
}

func (s *Scanner) scanMissedDoses(ctx context.Context, now time.Time) {
	doses, err := s.meds.MissedDoses(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("missed dose scan failed")
		return
	}
	for _, d := range doses {
		subject := d.SubjectID
		if s.openFor(ctx, event.KindMissedDose, subject) {
			continue
		}
		desc := fmt.Sprintf("missed dose of %s due %s", d.Medication, d.DueAt.Format(time.RFC3339))
		s.file(ctx, event.ReportInput{
			Kind:        event.KindMissedDose,
			Severity:    event.SeverityLow,
			Location:    d.Location,
			Description: desc,
			SubjectID:   &subject,
			Actor:       "rule:missed_dose",
		})
		s.checkPattern(ctx, subject, d.Location, now)
	}
}

func (s *Scanner) scanInteractions(ctx context.Context) {
	interactions, err := s.meds.Interactions(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("interaction scan failed")
		return
	}
	for _, in := range interactions {
		subject := in.SubjectID
		if s.openFor(ctx, event.KindDrugInteraction, subject) {
			continue
		}
		sev := in.Severity
		if sev == "" {
			sev = event.SeverityHigh
		}
		s.file(ctx, event.ReportInput{
			Kind:        event.KindDrugInteraction,
			Severity:    sev,
			Location:    in.Location,
			Description: fmt.Sprintf("interaction between %s and %s", in.DrugA, in.DrugB),
			SubjectID:   &subject,
			Actor:       "rule:drug_interaction",
		})
	}
}

func (s *Scanner) scanConsents(ctx context.Context) {
	consents, err := s.consents.ExpiringConsents(ctx, consentLeadTime)
	if err != nil {
		s.logger.Error().Err(err).Msg("consent scan failed")
		return
	}
	for _, c := range consents {
		subject := c.SubjectID
		if s.openFor(ctx, event.KindConsentExpiring, subject) {
			continue
		}
		s.file(ctx, event.ReportInput{
			Kind:        event.KindConsentExpiring,
			Severity:    event.SeverityLow,
			Location:    c.Location,
			Description: fmt.Sprintf("%s consent expires %s", c.Scope, c.ExpiresAt.Format("2006-01-02")),
			SubjectID:   &subject,
			Actor:       "rule:consent_expiring",
		})
	}
}

// checkPattern files a behavioral event when a subject accumulates
// patternThreshold same-kind events inside the window. One pattern event
// per subject per window.
func (s *Scanner) checkPattern(ctx context.Context, subject uuid.UUID, location string, now time.Time) {
	s.mu.Lock()
	if last, ok := s.patterns[subject]; ok && now.Sub(last) < patternWindow {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	count, err := s.registry.CountSimilar(ctx, event.KindMissedDose, subject, now.Add(-patternWindow))
	if err != nil {
		s.logger.Error().Err(err).Msg("pattern scan failed")
		return
	}
	if count < patternThreshold {
		return
	}

	s.mu.Lock()
	s.patterns[subject] = now
	s.mu.Unlock()

	s.file(ctx, event.ReportInput{
		Kind:        event.KindBehavioral,
		Severity:    event.SeverityMedium,
		Location:    location,
		Description: fmt.Sprintf("%d missed doses in the last 6 months, possible adherence problem", count),
		SubjectID:   &subject,
		Actor:       "rule:pattern",
	})
}

func (s *Scanner) openFor(ctx context.Context, kind event.Kind, subject uuid.UUID) bool {
	open := s.registry.ListOpen(ctx, event.Filter{Kind: kind, Subject: &subject})
	return len(open) > 0
}

func (s *Scanner) file(ctx context.Context, in event.ReportInput) {
	ev, err := s.reporter.Report(ctx, in)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", string(in.Kind)).Msg("rule scan failed to file event")
		return
	}
	id := ev.ID
	s.sink.Append(ctx, &audit.Entry{
		Category: audit.CategoryRule,
		EventID:  &id,
		Outcome:  "filed",
		Detail:   in.Actor,
	})
	s.logger.Info().
		Str("event", ev.ID.String()).
		Str("kind", string(in.Kind)).
		Msg("rule scan filed event")
}
