package stream

import (
	"context"

	"github.com/xiaot623/gogo/scenarios/internal/domain"
)

// DrainEvents forwards records from sub to emit until the run finishes, the
// context ends or emit fails. Exactly one finished record is emitted, as the
// last one, whenever the run reached a terminal state; if the finished record
// was lost to a full queue it is recovered from the subscription.
func DrainEvents(ctx context.Context, sub *Subscription[domain.StreamRecord], emit func(domain.StreamRecord) error) error {
	defer sub.Cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-sub.C():
			if !ok {
				if final, has := sub.Final(); has {
					return emit(final)
				}
				return nil
			}
			if err := emit(rec); err != nil {
				return err
			}
			if rec.Type == domain.RecordTypeFinished {
				return nil
			}
		}
	}
}

// DrainFrames forwards frames from sub to emit until the run finishes, the
// context ends or emit fails.
func DrainFrames(ctx context.Context, sub *Subscription[Frame], emit func(Frame) error) error {
	defer sub.Cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := emit(frame); err != nil {
				return err
			}
		}
	}
}
