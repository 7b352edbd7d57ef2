package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Dispatcher sends each message once to the primary sink, then to every
// mirror. Nothing is retried.
type Dispatcher struct {
	primary Sink
	mirrors []Sink

	dispatched   atomic.Int64
	failed       atomic.Int64
	mirrorFailed atomic.Int64
}

func NewDispatcher(primary Sink, mirrors ...Sink) *Dispatcher {
	return &Dispatcher{primary: primary, mirrors: mirrors}
}

// Dispatch returns the primary sink's error, if any. Mirrors only receive
// messages the primary delivered; their failures are logged and counted.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) error {
	start := time.Now()
	d.dispatched.Add(1)

	err := d.primary.Send(ctx, msg)
	if err != nil {
		d.failed.Add(1)
		log.Error().Err(err).Str("sink", d.primary.Name()).Msg("notify: delivery failed")
		return err
	}
	log.Info().
		Str("sink", d.primary.Name()).
		Dur("latency", time.Since(start)).
		Msg("notify: message delivered")

	for _, m := range d.mirrors {
		if merr := m.Send(ctx, msg); merr != nil {
			d.mirrorFailed.Add(1)
			log.Warn().Err(merr).Str("sink", m.Name()).Msg("notify: mirror delivery failed")
		}
	}
	return nil
}

type DispatcherStats struct {
	Dispatched   int64 `json:"dispatched"`
	Failed       int64 `json:"failed"`
	MirrorFailed int64 `json:"mirror_failed"`
}

func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Dispatched:   d.dispatched.Load(),
		Failed:       d.failed.Load(),
		MirrorFailed: d.mirrorFailed.Load(),
	}
}
