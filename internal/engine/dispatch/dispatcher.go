package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carealert/carealert/internal/domain/audit"
)

// Target is one responder to notify, with a resolved address per channel.
// Channels the responder has no address for are recorded as failures but
// never block the rest of the fan-out.
type Target struct {
	ResponderID uuid.UUID
	Addresses   map[Channel]string
}

// Result summarises one event's fan-out.
type Result struct {
	Sent      int
	Failed    int
	AllFailed bool
}

// Dispatcher fans an event's notification out to every assigned
// responder across every policy-mandated channel concurrently, with
// bounded retry per channel. Sends are fire-and-forget relative to the
// router: acknowledgement arrives later as a state-machine action.
type Dispatcher struct {
	transport Transport
	store     AttemptStore
	sink      audit.Sink
	logger    zerolog.Logger

	// MaxRetries is the number of re-sends after the first attempt.
	MaxRetries int
	// Backoff is the delay before the first retry; it doubles per retry.
	Backoff time.Duration
	// Timeout bounds each individual send attempt.
	Timeout time.Duration

	// OnTotalFailure is invoked when every channel to every responder
	// failed, which is itself escalation-worthy.
	OnTotalFailure func(eventID uuid.UUID)
}

func New(transport Transport, store AttemptStore, sink audit.Sink, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		transport:  transport,
		store:      store,
		sink:       sink,
		logger:     logger,
		MaxRetries: 2,
		Backoff:    5 * time.Second,
		Timeout:    10 * time.Second,
	}
}

// Dispatch sends message to every target on every channel and blocks
// until the fan-out completes. Callers wanting fire-and-forget run it in
// a goroutine.
func (d *Dispatcher) Dispatch(ctx context.Context, eventID uuid.UUID, targets []Target, channels []Channel, message string) Result {
	var sent, failed atomic.Int64
	var wg sync.WaitGroup

	for _, t := range targets {
		for _, ch := range channels {
			wg.Add(1)
			go func(t Target, ch Channel) {
				defer wg.Done()
				if d.sendChannel(ctx, eventID, t, ch, message) {
					sent.Add(1)
				} else {
					failed.Add(1)
				}
			}(t, ch)
		}
	}
	wg.Wait()

	res := Result{Sent: int(sent.Load()), Failed: int(failed.Load())}
	res.AllFailed = res.Sent == 0 && res.Failed > 0
	if res.AllFailed {
		d.logger.Error().Str("event", eventID.String()).Msg("all notification channels failed for all responders")
		d.sink.Append(ctx, &audit.Entry{
			Category: audit.CategoryDispatch,
			EventID:  &eventID,
			Outcome:  "total_failure",
			Detail:   "every channel to every assigned responder failed",
		})
		if d.OnTotalFailure != nil {
			d.OnTotalFailure(eventID)
		}
	}
	return res
}

// sendChannel runs one (responder, channel) delivery with bounded retry
// and exponential backoff. Returns true once a send succeeds.
func (d *Dispatcher) sendChannel(ctx context.Context, eventID uuid.UUID, t Target, ch Channel, message string) bool {
	addr, ok := t.Addresses[ch]
	if !ok {
		d.record(ctx, eventID, t.ResponderID, ch, 1, OutcomeFailed, "no contact method for channel")
		return false
	}

	for attempt := 1; attempt <= d.MaxRetries+1; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, d.Timeout)
		err := d.transport.Send(sendCtx, ch, addr, message)
		cancel()

		if err == nil {
			d.record(ctx, eventID, t.ResponderID, ch, attempt, OutcomeSent, "")
			return true
		}

		outcome := OutcomeFailed
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = OutcomeTimedOut
		}
		d.record(ctx, eventID, t.ResponderID, ch, attempt, outcome, err.Error())

		if attempt <= d.MaxRetries {
			backoff := d.Backoff << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return false
			}
		}
	}
	return false
}

// RecordAck appends the responder's acknowledgement to the attempt log,
// closing the response-time window.
func (d *Dispatcher) RecordAck(ctx context.Context, eventID, responderID uuid.UUID) {
	d.record(ctx, eventID, responderID, "", 0, OutcomeAcked, "")
}

// Attempts returns the attempt log for an event.
func (d *Dispatcher) Attempts(ctx context.Context, eventID uuid.UUID) ([]*Attempt, error) {
	return d.store.ListByEvent(ctx, eventID)
}

func (d *Dispatcher) record(ctx context.Context, eventID, responderID uuid.UUID, ch Channel, attempt int, outcome Outcome, errText string) {
	a := &Attempt{
		ID:          uuid.New(),
		EventID:     eventID,
		ResponderID: responderID,
		Channel:     ch,
		Attempt:     attempt,
		At:          time.Now().UTC(),
		Outcome:     outcome,
		Error:       errText,
	}
	if err := d.store.Record(ctx, a); err != nil {
		d.logger.Error().Err(err).Str("event", eventID.String()).Msg("failed to record notification attempt")
	}
	if outcome == OutcomeFailed || outcome == OutcomeTimedOut {
		d.sink.Append(ctx, &audit.Entry{
			Category:    audit.CategoryDispatch,
			EventID:     &eventID,
			ResponderID: &responderID,
			Outcome:     string(outcome),
			Detail:      string(ch) + ": " + errText,
		})
	}
}
