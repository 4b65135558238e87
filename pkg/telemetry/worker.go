package telemetry

import (
	"context"
	"log/slog"
	"time"
)

// WorkerConfig carries the protocol task's tunables.
type WorkerConfig struct {
	// PollInterval is the pause between node polls.
	PollInterval time.Duration

	// Window is the collector's dedupe window.
	Window time.Duration

	// QueueDepth sizes the send and delivery channels.
	QueueDepth int

	// Logger receives debug logs. Nil disables logging.
	Logger *slog.Logger
}

// DefaultWorkerConfig returns the stock worker tuning.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 10 * time.Millisecond,
		Window:       DefaultWindow,
		QueueDepth:   32,
	}
}

// SendRequest asks the worker to transmit one payload.
type SendRequest struct {
	Dst      uint8
	Data     []byte
	Critical bool
}

// Delivery is one received logical message.
type Delivery struct {
	Src  uint8
	Data []byte
}

// Worker owns the node. All node access happens on the Run goroutine;
// callers talk to it over channels, so sends apply backpressure and
// receives never block the radio.
type Worker struct {
	node      Node
	config    WorkerConfig
	stats     *Stats
	sender    *Sender
	collector *Collector
	sendq     chan SendRequest
	rxq       chan Delivery
}

// NewWorker wraps node. Zero config fields fall back to
// DefaultWorkerConfig values.
func NewWorker(node Node, cfg WorkerConfig) *Worker {
	def := DefaultWorkerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	stats := &Stats{}
	return &Worker{
		node:      node,
		config:    cfg,
		stats:     stats,
		sender:    NewSender(node, stats),
		collector: NewCollector(cfg.Window, stats),
		sendq:     make(chan SendRequest, cfg.QueueDepth),
		rxq:       make(chan Delivery, cfg.QueueDepth),
	}
}

// Submit queues req for transmission. It blocks while the send queue is
// full and fails with the context's error when ctx ends first.
func (w *Worker) Submit(ctx context.Context, req SendRequest) error {
	select {
	case w.sendq <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliveries returns the channel of received messages. The consumer must
// drain it; when it backs up the worker drops new deliveries rather than
// stall the poll loop.
func (w *Worker) Deliveries() <-chan Delivery {
	return w.rxq
}

// Stats returns a snapshot of the traffic counters.
func (w *Worker) Stats() Snapshot {
	return w.stats.Snapshot()
}

// Run services the node until ctx is done. Send and poll errors are
// logged and the loop continues; only ctx ends it.
func (w *Worker) Run(ctx context.Context) error {
	w.node.SetReceiveCallback(w.receive)
	defer w.node.SetReceiveCallback(nil)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-w.sendq:
			if err := w.sender.Send(req.Dst, req.Data, req.Critical); err != nil {
				w.debugLog("send failed", "dst", req.Dst, "error", err)
			}
		case <-time.After(w.config.PollInterval):
			if err := w.node.Poll(); err != nil {
				w.debugLog("poll failed", "error", err)
			}
		}
	}
}

// receive runs on the Run goroutine, from inside node.Poll.
func (w *Worker) receive(src uint8, data []byte) {
	payload, ok := w.collector.Ingest(src, data, time.Now())
	if !ok {
		return
	}
	select {
	case w.rxq <- Delivery{Src: src, Data: payload}:
	default:
		w.debugLog("delivery queue full, dropping", "src", src, "len", len(payload))
	}
}

func (w *Worker) debugLog(msg string, args ...any) {
	if w.config.Logger != nil {
		w.config.Logger.Debug(msg, args...)
	}
}
