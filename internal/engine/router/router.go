package router

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carealert/carealert/internal/domain/audit"
	"github.com/carealert/carealert/internal/domain/event"
	"github.com/carealert/carealert/internal/domain/responder"
	"github.com/carealert/carealert/internal/engine/policy"
)

// Result is the outcome of one routing pass.
type Result struct {
	// Responders that were successfully reserved, in paging order.
	Responders []responder.Responder
	// UnmetDemand is how many of the policy's requested slots could not
	// be filled. Non-zero demand triggers immediate escalation upstream.
	UnmetDemand int
}

// Router picks and reserves responders for an event according to the
// escalation policy's current rung. It never mutates event state; the
// engine owns assignment bookkeeping.
type Router struct {
	directory *responder.Directory
	policies  *policy.Table
	sink      audit.Sink
	logger    zerolog.Logger
}

func New(directory *responder.Directory, policies *policy.Table, sink audit.Sink, logger zerolog.Logger) *Router {
	return &Router{directory: directory, policies: policies, sink: sink, logger: logger}
}

// Route finds eligible responders for the event's current level and
// reserves them in order until the policy's demand is met. exclude lists
// responders who were previously assigned and failed to acknowledge;
// they are skipped on re-route so escalation widens the net instead of
// re-paging the same people.
//
// Reservation races resolve themselves: a candidate that reaches
// capacity between eligibility check and Reserve simply fails the
// reserve, and the router moves down the ordered list.
func (r *Router) Route(ctx context.Context, ev *event.Event, exclude map[uuid.UUID]bool) Result {
	step := r.policies.Step(ev.Kind, ev.Severity, ev.EscalationLevel)
	eligible := r.directory.FindEligible(ev.Kind, ev.Severity, ev.Location, time.Now())

	// Responders matching the rung's target role are paged first; the
	// rest stay eligible behind them.
	ordered := make([]responder.Responder, 0, len(eligible))
	var rest []responder.Responder
	for _, c := range eligible {
		if exclude[c.ID] {
			continue
		}
		if c.Role == step.TargetRole {
			ordered = append(ordered, c)
		} else {
			rest = append(rest, c)
		}
	}
	ordered = append(ordered, rest...)

	var res Result
	for _, c := range ordered {
		if len(res.Responders) == step.Responders {
			break
		}
		if !r.directory.Reserve(c.ID, ev.ID) {
			// Candidate filled up between eligibility check and reserve.
			// Recovered by moving down the list, recorded all the same.
			id := c.ID
			r.sink.Append(ctx, &audit.Entry{
				Category:    audit.CategoryRouting,
				EventID:     &ev.ID,
				ResponderID: &id,
				Outcome:     "reservation_failed",
				Detail:      "responder at capacity",
			})
			continue
		}
		res.Responders = append(res.Responders, c)
	}

	res.UnmetDemand = step.Responders - len(res.Responders)
	for _, c := range res.Responders {
		id := c.ID
		r.sink.Append(ctx, &audit.Entry{
			Category:    audit.CategoryRouting,
			EventID:     &ev.ID,
			ResponderID: &id,
			Outcome:     "reserved",
			Detail:      string(c.Role),
		})
	}
	if res.UnmetDemand > 0 {
		outcome := "unmet_demand"
		detail := "no eligible responders for remaining slots"
		if len(res.Responders) == 0 {
			outcome = "no_eligible_responders"
			detail = "nobody eligible and available"
		}
		r.logger.Warn().
			Str("event", ev.ID.String()).
			Int("level", ev.EscalationLevel).
			Int("unmet", res.UnmetDemand).
			Msg("routing demand not met")
		r.sink.Append(ctx, &audit.Entry{
			Category: audit.CategoryRouting,
			EventID:  &ev.ID,
			Outcome:  outcome,
			Detail:   detail,
		})
	}
	return res
}

// ReleaseAll returns every assigned responder's slot for the event.
func (r *Router) ReleaseAll(ev *event.Event) {
	for _, id := range ev.AssignedResponderIDs {
		r.directory.Release(id, ev.ID)
	}
}
