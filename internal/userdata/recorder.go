package userdata

import (
	"context"
	"time"

	"go.uber.org/zap"

	"optiquantia/internal/events"
	"optiquantia/internal/models"
)

// Recorder persists activity events published on the bus. Failures are
// logged and dropped.
type Recorder struct {
	store   Store
	log     *zap.Logger
	timeout time.Duration
	sub     events.Subscription
}

func StartRecorder(bus *events.Bus, store Store, log *zap.Logger) (*Recorder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	rec := &Recorder{
		store:   store,
		log:     log.With(zap.String("component", "activity_recorder")),
		timeout: 5 * time.Second,
	}
	sub, err := bus.OnActivityAsync(rec.record)
	if err != nil {
		return nil, err
	}
	rec.sub = sub
	return rec, nil
}

func (r *Recorder) record(ev events.ActivityEvent) {
	if ev.UserID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	err := r.store.LogActivity(ctx, models.Activity{
		UserID:  ev.UserID,
		Action:  ev.Action,
		Details: ev.Details,
	})
	if err != nil {
		r.log.Warn("record activity",
			zap.String("user_id", ev.UserID),
			zap.String("action", string(ev.Action)),
			zap.Error(err),
		)
	}
}

func (r *Recorder) Close() error {
	return r.sub.Unsubscribe()
}
