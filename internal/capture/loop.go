package capture

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"tsprobe/internal/config"
)

// RawPacket is one captured frame with its arrival timestamp.
type RawPacket struct {
	Data []byte
	At   time.Time
}

// statsLogInterval is how often the capture loop logs backend counters.
const statsLogInterval = 30 * time.Second

// Loop runs one backend and feeds the packet queue. Shutdown is a
// shared flag checked at every blocking point rather than a closed
// channel, so the loop always owns the send side of the queue.
type Loop struct {
	backend Backend
	cfg     config.QueueConfig
	batch   int

	queue   chan RawPacket
	running atomic.Bool
	done    chan struct{}

	enqueued  atomic.Uint64
	discarded atomic.Uint64

	finalOnce sync.Once
	final     Stats
}

// NewLoop creates a capture loop over backend with the given queue
// policy.
func NewLoop(backend Backend, queueCfg config.QueueConfig, batchSize int) *Loop {
	return &Loop{
		backend: backend,
		cfg:     queueCfg,
		batch:   batchSize,
		queue:   make(chan RawPacket, queueCfg.Size),
		done:    make(chan struct{}),
	}
}

// Packets returns the receive side of the packet queue. The channel is
// closed when the loop exits.
func (l *Loop) Packets() <-chan RawPacket {
	return l.queue
}

// Running reports whether the loop should keep going. Pipeline workers
// poll this at their own blocking points.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Start brings up the backend and runs the capture goroutine.
func (l *Loop) Start() error {
	if err := l.backend.Start(); err != nil {
		return err
	}
	l.running.Store(true)
	go l.run()
	return nil
}

// Stop requests shutdown and waits for the capture goroutine to exit.
func (l *Loop) Stop() {
	l.running.Store(false)
	<-l.done
}

// FinalStats returns the backend counters captured at shutdown, frozen
// exactly once.
func (l *Loop) FinalStats() Stats {
	l.finalOnce.Do(func() {
		l.final = l.backend.Stats()
	})
	return l.final
}

// Enqueued returns how many packets entered the queue.
func (l *Loop) Enqueued() uint64 { return l.enqueued.Load() }

// Discarded returns how many packets the queue policy dropped.
func (l *Loop) Discarded() uint64 { return l.discarded.Load() }

func (l *Loop) run() {
	defer func() {
		l.FinalStats()
		l.backend.Stop()
		close(l.queue)
		close(l.done)
	}()

	lastStats := time.Now()
	for l.running.Load() {
		batch, err := l.backend.ReceiveBatch(l.batch)
		if err != nil && err != ErrTimeout {
			log.WithError(err).Error("Capture failed, shutting down")
			l.running.Store(false)
			return
		}
		at := time.Now()
		for _, data := range batch {
			l.enqueue(RawPacket{Data: data, At: at})
		}

		if time.Since(lastStats) >= statsLogInterval {
			s := l.backend.Stats()
			log.WithFields(log.Fields{
				"received":   s.Received,
				"dropped":    s.Dropped,
				"if_dropped": s.IfDropped,
				"enqueued":   l.enqueued.Load(),
				"discarded":  l.discarded.Load(),
			}).Info("Capture statistics")
			lastStats = at
		}
	}
}

// enqueue applies the queue policy: block until the consumer catches up
// (checking the running flag), or drop immediately when configured to.
func (l *Loop) enqueue(pkt RawPacket) {
	if l.cfg.DropOnFull {
		select {
		case l.queue <- pkt:
			l.enqueued.Add(1)
		default:
			l.discarded.Add(1)
		}
		return
	}
	for l.running.Load() {
		select {
		case l.queue <- pkt:
			l.enqueued.Add(1)
			return
		case <-time.After(100 * time.Millisecond):
			// Re-check the running flag; a stalled consumer must not
			// pin the loop past shutdown.
		}
	}
	l.discarded.Add(1)
}
