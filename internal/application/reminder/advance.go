package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-reminders/internal/domain"
	"github.com/go-reminders/internal/pkg/recurrence"
	"github.com/go-reminders/internal/queue"
)

// Advance handles a recur job: once the current occurrence has passed and its
// notification went out (or went stale), it schedules the next occurrence and
// re-arms itself. Returning nil without re-arming ends the chain.
func (s *service) Advance(ctx context.Context, job *queue.Job) error {
	var p domain.AdvancePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return queue.NoRetry(fmt.Errorf("malformed recur payload: %w", err))
	}
	if p.ReminderID == "" {
		return queue.NoRetry(errors.New("recur payload without reminder id"))
	}
	log := s.log.With().Str("reminder_id", p.ReminderID).Logger()

	rem, err := s.reminders.Get(ctx, p.ReminderID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rem.Status != domain.ReminderActive || rem.Recurrence == nil {
		log.Debug().Str("status", string(rem.Status)).Msg("recurrence chain ended")
		return nil
	}
	rule, err := recurrence.Parse(*rem.Recurrence, rem.Location(), recurrence.WithAnchorDay(rem.AnchorDay))
	if err != nil {
		log.Warn().Err(err).Msg("stored recurrence rule no longer parses")
		return nil
	}

	now := s.now().UTC()
	if now.Before(rem.DueAt) {
		return s.armRecur(ctx, rem.ReminderID)
	}
	pending, err := s.notifications.ListPending(ctx, rem.ReminderID)
	if err != nil {
		return err
	}
	for _, n := range pending {
		if n.ScheduledAt.Equal(rem.DueAt) && now.Sub(n.ScheduledAt) < s.cfg.RecurStaleAfter {
			// Current occurrence is still being delivered.
			return s.armRecur(ctx, rem.ReminderID)
		}
	}

	next := rule.Next(rem.DueAt, now)
	n := s.newNotification(rem, next)
	if err := s.notifications.Create(ctx, n); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}
	if err := s.enqueueNotify(ctx, n); err != nil {
		s.discardNotification(ctx, n, false)
		return fmt.Errorf("enqueue notification: %w", err)
	}
	if err := s.reminders.AdvanceDue(ctx, rem.ReminderID, rem.DueAt, next); err != nil {
		s.discardNotification(ctx, n, true)
		if errors.Is(err, domain.ErrConflict) {
			// Snoozed, finished or advanced by someone else; look again later.
			return s.armRecur(ctx, rem.ReminderID)
		}
		return fmt.Errorf("advance due: %w", err)
	}
	if err := s.settle(ctx, n); err != nil {
		log.Warn().Err(err).Msg("advance: previous notifications left pending")
	}
	log.Info().Time("prev_due", rem.DueAt).Time("next_due", next).Str("rule", rule.String()).Msg("recurrence advanced")
	return s.armRecur(ctx, rem.ReminderID)
}
