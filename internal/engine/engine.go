package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carealert/carealert/internal/domain/audit"
	"github.com/carealert/carealert/internal/domain/event"
	"github.com/carealert/carealert/internal/domain/responder"
	"github.com/carealert/carealert/internal/engine/dispatch"
	"github.com/carealert/carealert/internal/engine/policy"
	"github.com/carealert/carealert/internal/engine/router"
	"github.com/carealert/carealert/internal/engine/scheduler"
)

// Engine coordinates the full escalation pipeline: report -> route ->
// notify -> await acknowledgement -> escalate on deadline. It owns the
// scheduler and dispatcher callbacks and listens on the registry for
// transitions that stop the clock or free responders.
type Engine struct {
	registry   *event.Registry
	directory  *responder.Directory
	policies   *policy.Table
	router     *router.Router
	scheduler  *scheduler.Scheduler
	dispatcher *dispatch.Dispatcher
	sink       audit.Sink
	logger     zerolog.Logger
}

func New(
	registry *event.Registry,
	directory *responder.Directory,
	policies *policy.Table,
	rt *router.Router,
	dispatcher *dispatch.Dispatcher,
	sink audit.Sink,
	logger zerolog.Logger,
) *Engine {
	e := &Engine{
		registry:   registry,
		directory:  directory,
		policies:   policies,
		router:     rt,
		dispatcher: dispatcher,
		sink:       sink,
		logger:     logger,
	}
	e.scheduler = scheduler.New(logger, e.onDeadline)
	dispatcher.OnTotalFailure = e.onTotalFailure
	registry.AddListener(e)
	return e
}

// Start launches the scheduler loop and re-arms deadlines for events
// recovered from the durable log, so a restart does not lose pending
// escalations.
func (e *Engine) Start(ctx context.Context) error {
	open, err := e.registry.Recover(ctx)
	if err != nil {
		return err
	}
	e.scheduler.Start(ctx)
	now := time.Now()
	for _, ev := range open {
		if !ev.State.AwaitingAck() {
			continue
		}
		step := e.policies.Step(ev.Kind, ev.Severity, ev.EscalationLevel)
		deadline := ev.UpdatedAt.Add(step.After)
		if deadline.Before(now) {
			deadline = now.Add(time.Minute)
		}
		e.scheduler.Arm(ev.ID, ev.EscalationLevel, deadline)
	}
	return nil
}

// Report registers a new event, routes responders, arms the
// acknowledgement deadline and fans out notifications. The event is
// always created and its ID returned even when no responder could be
// reserved; in that case it escalates immediately instead of failing.
func (e *Engine) Report(ctx context.Context, in event.ReportInput) (*event.Event, error) {
	ev, err := e.registry.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	e.logger.Info().
		Str("event", ev.ID.String()).
		Str("kind", string(ev.Kind)).
		Str("severity", string(ev.Severity)).
		Msg("event reported")

	e.route(ctx, ev, nil, true)

	out, err := e.registry.Get(ctx, ev.ID)
	if err != nil {
		return ev, nil
	}
	return out, nil
}

// Acknowledge records a responder taking ownership. Repeated
// acknowledgements are no-ops; the first one disarms the escalation
// timer and closes the responder's response-time window.
func (e *Engine) Acknowledge(ctx context.Context, id, responderID uuid.UUID, note string) (*event.Event, error) {
	ev, err := e.registry.Transition(ctx, id, event.ActionAcknowledge, responderID.String(), note)
	if err != nil {
		return nil, err
	}
	e.dispatcher.RecordAck(ctx, id, responderID)
	return ev, nil
}

// Transition applies a manual lifecycle action (start_response, contain,
// resolve, close, cancel).
func (e *Engine) Transition(ctx context.Context, id uuid.UUID, action event.Action, actor, note string) (*event.Event, error) {
	return e.registry.Transition(ctx, id, action, actor, note)
}

// OnTransition implements event.Listener. It runs after a transition is
// persisted: acknowledgement stops the escalation clock, terminal states
// free the assigned responders and drop all timer bookkeeping.
func (e *Engine) OnTransition(ctx context.Context, ev *event.Event, entry *event.TransitionEntry) {
	id := ev.ID
	e.sink.Append(ctx, &audit.Entry{
		Category: audit.CategoryTransition,
		EventID:  &id,
		Outcome:  string(entry.ToState),
		Detail:   fmt.Sprintf("%s by %s", entry.Action, entry.Actor),
	})

	if entry.Action == event.ActionAcknowledge {
		e.scheduler.Disarm(ev.ID)
		return
	}
	if ev.State.Terminal() {
		e.scheduler.Forget(ev.ID)
		e.router.ReleaseAll(ev)
	}
}

// onDeadline is the scheduler callback: the acknowledgement window for
// the given level elapsed without an ack.
func (e *Engine) onDeadline(eventID uuid.UUID, level int) {
	ctx := context.Background()
	id := eventID
	e.sink.Append(ctx, &audit.Entry{
		Category: audit.CategoryTimer,
		EventID:  &id,
		Outcome:  "deadline_elapsed",
		Detail:   fmt.Sprintf("level %d acknowledgement window expired", level),
	})
	e.escalate(ctx, eventID)
}

// onTotalFailure is the dispatcher callback: every notification channel
// to every assigned responder failed, so waiting out the deadline would
// page nobody.
func (e *Engine) onTotalFailure(eventID uuid.UUID) {
	e.escalate(context.Background(), eventID)
}

// escalateRetryDelay is how long to wait before retrying an escalation
// whose persist or lookup failed. The firing timer already consumed the
// event's live heap entry, so without a re-arm a transient storage error
// would stop the event's clock for good.
const escalateRetryDelay = 30 * time.Second

// escalate moves the event one level up its ladder and re-routes,
// excluding responders already paged. A race with acknowledge or cancel
// resolves to a no-op inside the registry.
func (e *Engine) escalate(ctx context.Context, eventID uuid.UUID) {
	cur, err := e.registry.Get(ctx, eventID)
	if err != nil {
		e.logger.Error().Err(err).Str("event", eventID.String()).Msg("escalation lookup failed")
		if !errors.Is(err, event.ErrNotFound) {
			e.scheduler.Arm(eventID, 0, time.Now().Add(escalateRetryDelay))
		}
		return
	}
	if !cur.State.AwaitingAck() {
		return
	}

	ladder := e.policies.Ladder(cur.Kind, cur.Severity)
	if cur.EscalationLevel >= len(ladder) {
		// Top of the ladder with nobody new to page. Keep the timer
		// running so the top rung keeps retrying instead of going quiet.
		id := eventID
		e.sink.Append(ctx, &audit.Entry{
			Category: audit.CategoryTimer,
			EventID:  &id,
			Outcome:  "ladder_exhausted",
			Detail:   fmt.Sprintf("already at level %d", cur.EscalationLevel),
		})
		step := ladder.Step(cur.EscalationLevel)
		e.scheduler.Arm(eventID, cur.EscalationLevel, time.Now().Add(step.After))
		return
	}

	next := e.policies.Step(cur.Kind, cur.Severity, cur.EscalationLevel+1)
	ev, escalated, err := e.registry.Escalate(ctx, eventID, next.PromoteSeverity)
	if err != nil {
		// The deadline that got us here is spent; re-arm the current
		// level on a short fuse so a transient storage error does not
		// leave the event without an escalation clock.
		e.logger.Error().Err(err).Str("event", eventID.String()).Msg("escalation failed, retrying")
		e.scheduler.Arm(eventID, cur.EscalationLevel, time.Now().Add(escalateRetryDelay))
		return
	}
	if !escalated {
		return
	}
	e.logger.Warn().
		Str("event", ev.ID.String()).
		Int("level", ev.EscalationLevel).
		Str("severity", string(ev.Severity)).
		Msg("event escalated")

	exclude := make(map[uuid.UUID]bool, len(ev.AssignedResponderIDs))
	for _, rid := range ev.AssignedResponderIDs {
		exclude[rid] = true
	}
	e.route(ctx, ev, exclude, false)
}

// route reserves responders for the event's current level, persists the
// assignment set, arms the acknowledgement deadline and fans out
// notifications. Unmet demand escalates immediately rather than waiting
// for a deadline nobody is going to meet; allowImmediate caps that at
// one level per trigger so an empty roster climbs rung by rung on
// deadlines instead of racing to the top.
func (e *Engine) route(ctx context.Context, ev *event.Event, exclude map[uuid.UUID]bool, allowImmediate bool) {
	step := e.policies.Step(ev.Kind, ev.Severity, ev.EscalationLevel)
	res := e.router.Route(ctx, ev, exclude)

	if len(res.Responders) > 0 {
		assigned := append([]uuid.UUID(nil), ev.AssignedResponderIDs...)
		for _, r := range res.Responders {
			if !ev.Assigned(r.ID) {
				assigned = append(assigned, r.ID)
			}
		}
		if err := e.registry.SetAssignments(ctx, ev.ID, assigned); err != nil {
			e.logger.Error().Err(err).Str("event", ev.ID.String()).Msg("failed to persist assignments")
		}
		ev.AssignedResponderIDs = assigned
	}

	e.scheduler.Arm(ev.ID, ev.EscalationLevel, time.Now().Add(step.After))

	if len(res.Responders) > 0 {
		targets := make([]dispatch.Target, 0, len(res.Responders))
		for _, r := range res.Responders {
			t := dispatch.Target{ResponderID: r.ID, Addresses: make(map[dispatch.Channel]string)}
			for _, ch := range step.Channels {
				if addr, ok := r.Contact(string(ch)); ok {
					t.Addresses[ch] = addr
				}
			}
			targets = append(targets, t)
		}
		msg := fmt.Sprintf("[%s] %s at %s: %s", ev.Severity, ev.Kind, ev.Location, ev.Description)
		go e.dispatcher.Dispatch(context.WithoutCancel(ctx), ev.ID, targets, step.Channels, msg)
	}

	if res.UnmetDemand > 0 && allowImmediate {
		e.escalate(ctx, ev.ID)
	}
}
