package push

import (
	"context"
	"errors"

	"github.com/Tyrowin/relaychat/internal/chat"
)

// Report summarises one fan-out.
type Report struct {
	Skipped   bool
	Attempted int
	Delivered int
	Kept      []chat.Subscription
	Dropped   []chat.Subscription
	// Err joins every per-subscription failure, gone or transient.
	Err error
}

// Sweep sends payload to every subscription in turn. A subscription whose
// endpoint answers 404 or 410 is dropped; any other failure keeps it, and
// the next message is its retry. One failure never stops the sweep.
func Sweep(ctx context.Context, sender Sender, subs []chat.Subscription, payload []byte) Report {
	r := Report{
		Kept:    make([]chat.Subscription, 0, len(subs)),
		Dropped: []chat.Subscription{},
	}
	var errs []error

	for _, sub := range subs {
		r.Attempted++
		err := sender.Send(ctx, sub, payload)
		switch {
		case err == nil:
			r.Delivered++
			r.Kept = append(r.Kept, sub)
		case errors.Is(err, ErrGone):
			r.Dropped = append(r.Dropped, sub)
			errs = append(errs, err)
		default:
			r.Kept = append(r.Kept, sub)
			errs = append(errs, err)
		}
	}

	r.Err = errors.Join(errs...)
	return r
}
