package policy

import (
	"fmt"
	"time"

	"github.com/carealert/carealert/internal/domain/event"
	"github.com/carealert/carealert/internal/domain/responder"
	"github.com/carealert/carealert/internal/engine/dispatch"
)

// Step is one rung of an escalation ladder. After is measured from the
// moment the event reaches this level; the scheduler fires the next rung
// when it elapses without acknowledgement.
type Step struct {
	// After is the acknowledgement deadline for this level.
	After time.Duration
	// TargetRole is preferred when routing at this level. Responders of
	// other roles remain eligible, ordered behind it.
	TargetRole responder.Role
	// Channels to notify across at this level.
	Channels []dispatch.Channel
	// Responders is how many responders the router should reserve.
	Responders int
	// PromoteSeverity bumps the event one severity rank when this level
	// is reached.
	PromoteSeverity bool
}

// Ladder is an ordered list of steps. Level 1 is Ladder[0]; escalation
// past the last rung stays on the last rung.
type Ladder []Step

// Step returns the rung for a 1-indexed level, clamped to the ladder.
func (l Ladder) Step(level int) Step {
	if level < 1 {
		level = 1
	}
	if level > len(l) {
		level = len(l)
	}
	return l[level-1]
}

type key struct {
	kind     event.Kind
	severity event.Severity
}

// Table maps (kind, severity) to an escalation ladder. Lookups always
// resolve: a kind-specific entry wins, then the severity default.
type Table struct {
	ladders  map[key]Ladder
	defaults map[event.Severity]Ladder
}

// Set installs a ladder for a specific (kind, severity) pair,
// overriding the severity default.
func (t *Table) Set(kind event.Kind, severity event.Severity, l Ladder) {
	if t.ladders == nil {
		t.ladders = make(map[key]Ladder)
	}
	t.ladders[key{kind, severity}] = l
}

// Ladder resolves the ladder for an event.
func (t *Table) Ladder(kind event.Kind, severity event.Severity) Ladder {
	if l, ok := t.ladders[key{kind, severity}]; ok {
		return l
	}
	return t.defaults[severity]
}

// Step resolves the rung for a 1-indexed escalation level.
func (t *Table) Step(kind event.Kind, severity event.Severity, level int) Step {
	return t.Ladder(kind, severity).Step(level)
}

// Validate checks that every kind and severity resolves to a non-empty
// ladder whose steps all request at least one responder and one channel.
func (t *Table) Validate() error {
	severities := []event.Severity{
		event.SeverityLow, event.SeverityMedium, event.SeverityHigh,
		event.SeverityCritical, event.SeverityCatastrophic,
	}
	for _, k := range event.Kinds {
		for _, s := range severities {
			l := t.Ladder(k, s)
			if len(l) == 0 {
				return fmt.Errorf("no escalation ladder for %s/%s", k, s)
			}
			for i, step := range l {
				if step.After <= 0 {
					return fmt.Errorf("ladder %s/%s step %d: non-positive deadline", k, s, i+1)
				}
				if step.Responders < 1 {
					return fmt.Errorf("ladder %s/%s step %d: requests no responders", k, s, i+1)
				}
				if len(step.Channels) == 0 {
					return fmt.Errorf("ladder %s/%s step %d: no channels", k, s, i+1)
				}
			}
		}
	}
	return nil
}

// deadlines are acknowledgement windows per severity. An unacknowledged
// catastrophic event escalates after two minutes; a low-severity one
// waits an hour.
var deadlines = map[event.Severity]time.Duration{
	event.SeverityLow:          60 * time.Minute,
	event.SeverityMedium:       30 * time.Minute,
	event.SeverityHigh:         15 * time.Minute,
	event.SeverityCritical:     5 * time.Minute,
	event.SeverityCatastrophic: 2 * time.Minute,
}

func channelsFor(s event.Severity) []dispatch.Channel {
	switch {
	case s.AtLeast(event.SeverityCritical):
		return []dispatch.Channel{dispatch.ChannelPush, dispatch.ChannelSMS, dispatch.ChannelVoice}
	case s.AtLeast(event.SeverityMedium):
		return []dispatch.Channel{dispatch.ChannelPush, dispatch.ChannelSMS}
	default:
		return []dispatch.Channel{dispatch.ChannelPush}
	}
}

func respondersFor(s event.Severity) int {
	switch {
	case s.AtLeast(event.SeverityCatastrophic):
		return 3
	case s.AtLeast(event.SeverityCritical):
		return 2
	default:
		return 1
	}
}

// defaultLadder builds the three-rung severity default: primaries first,
// then secondaries, then a manager with a severity promotion. Higher
// levels widen the channel set and shorten the wait.
func defaultLadder(s event.Severity) Ladder {
	base := deadlines[s]
	escalated := base / 2
	if escalated < time.Minute {
		escalated = time.Minute
	}
	wide := channelsFor(s.Promote())
	return Ladder{
		{After: base, TargetRole: responder.RolePrimary, Channels: channelsFor(s), Responders: respondersFor(s)},
		{After: escalated, TargetRole: responder.RoleSecondary, Channels: wide, Responders: respondersFor(s) + 1},
		{After: escalated, TargetRole: responder.RoleManager, Channels: wide, Responders: respondersFor(s) + 1, PromoteSeverity: true},
	}
}

// Default returns the built-in escalation table: a severity-keyed
// default ladder plus kind-specific overrides for the cases where the
// default deadline is wrong for the clinical reality.
func Default() *Table {
	t := &Table{defaults: make(map[event.Severity]Ladder)}
	for s := range deadlines {
		t.defaults[s] = defaultLadder(s)
	}

	// A fire alarm is time-critical at any reported severity.
	for _, s := range []event.Severity{event.SeverityLow, event.SeverityMedium, event.SeverityHigh} {
		l := defaultLadder(s)
		for i := range l {
			if l[i].After > 5*time.Minute {
				l[i].After = 5 * time.Minute
			}
		}
		t.Set(event.KindFire, s, l)
	}

	// A missed dose waits the full hour, but an ignored one is promoted
	// so the second rung behaves like a medium event.
	missed := defaultLadder(event.SeverityLow)
	missed[1].PromoteSeverity = true
	t.Set(event.KindMissedDose, event.SeverityLow, missed)

	return t
}
