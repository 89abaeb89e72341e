package event

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Bus assigns the global sequence and fans envelopes out to the
// persistence worker and the publisher. The persist channel send blocks:
// the audit log must never lose an event. The publish channel send is
// best-effort and drops when the publisher lags.
type Bus struct {
	seq         atomic.Int64
	now         func() time.Time
	persistChan chan<- Envelope
	publishChan chan<- Envelope
	dropped     atomic.Int64
	log         zerolog.Logger
}

func NewBus(persistChan, publishChan chan<- Envelope, log zerolog.Logger) *Bus {
	return &Bus{
		now:         time.Now,
		persistChan: persistChan,
		publishChan: publishChan,
		log:         log,
	}
}

// Seed sets the next sequence after restoring from a snapshot.
func (b *Bus) Seed(lastSequence int64) {
	b.seq.Store(lastSequence)
}

func (b *Bus) Record(ev Event) {
	env := Envelope{
		Sequence:  b.seq.Add(1),
		EventID:   uuid.New(),
		Type:      ev.EventType(),
		Timestamp: b.now(),
		Payload:   ev,
	}

	if b.persistChan != nil {
		b.persistChan <- env
	}

	if b.publishChan != nil {
		select {
		case b.publishChan <- env:
		default:
			n := b.dropped.Add(1)
			if n%1000 == 1 {
				b.log.Warn().
					Int64("dropped_total", n).
					Str("event_type", env.Type.String()).
					Msg("publish channel full, dropping event")
			}
		}
	}
}

// Dropped reports how many envelopes were discarded on the publish path.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
