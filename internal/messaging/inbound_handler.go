package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/BTreeMap/StudyPipe/internal/phone"
	"github.com/BTreeMap/StudyPipe/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultWorkers bounds concurrently handled messages per service.
	DefaultWorkers = 8
	// DefaultHandleTimeout bounds one message end to end.
	DefaultHandleTimeout = 90 * time.Second
)

// ErrDuplicate is returned for a message id that was already recorded.
var ErrDuplicate = errors.New("duplicate inbound message")

// Router produces a reply for a normalized message.
type Router interface {
	Handle(ctx context.Context, msg models.InboundMessage) models.Reply
}

var inboundTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "studypipe",
		Subsystem: "messaging",
		Name:      "inbound_total",
		Help:      "Inbound messages by outcome",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(inboundTotal)
}

// RegisterMetrics registers messaging metrics with a custom registry.
func RegisterMetrics(reg prometheus.Registerer) {
	if reg == nil || reg == prometheus.DefaultRegisterer {
		return
	}
	reg.MustRegister(inboundTotal)
}

// HandlerOption configures an InboundHandler.
type HandlerOption func(*InboundHandler)

// WithDeduper enables message id deduplication.
func WithDeduper(d store.DedupRepo) HandlerOption {
	return func(h *InboundHandler) { h.dedup = d }
}

// WithWorkers sets how many messages Run handles at once.
func WithWorkers(n int) HandlerOption {
	return func(h *InboundHandler) {
		if n > 0 {
			h.workers = n
		}
	}
}

// WithHandleTimeout bounds the time spent on one message.
func WithHandleTimeout(d time.Duration) HandlerOption {
	return func(h *InboundHandler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// InboundHandler deduplicates inbound messages, routes them and sends replies.
type InboundHandler struct {
	router  Router
	dedup   store.DedupRepo
	workers int
	timeout time.Duration
}

// NewInboundHandler creates a handler over router.
func NewInboundHandler(router Router, opts ...HandlerOption) *InboundHandler {
	h := &InboundHandler{router: router, workers: DefaultWorkers, timeout: DefaultHandleTimeout}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Process deduplicates and routes one message. Messages without text or an
// image are still routed so the sender gets a reply. A dedup store failure
// is logged and the message is handled anyway.
func (h *InboundHandler) Process(ctx context.Context, msg models.InboundMessage) (models.Reply, error) {
	if msg.Validate() != nil {
		inboundTotal.WithLabelValues("unsupported").Inc()
	}
	tail, _ := phone.Tail(msg.RawPhone)

	if h.dedup != nil && msg.MessageID != "" {
		fresh, err := h.dedup.RecordInbound(ctx, msg.MessageID, tail)
		switch {
		case err != nil:
			slog.Error("InboundHandler.Process: dedup record failed, processing anyway", "messageID", msg.MessageID, "error", err)
		case !fresh:
			slog.Info("InboundHandler.Process: duplicate message skipped", "messageID", msg.MessageID, "tail", tail)
			inboundTotal.WithLabelValues("duplicate").Inc()
			return models.Reply{}, ErrDuplicate
		}
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	reply := h.router.Handle(ctx, msg)
	inboundTotal.WithLabelValues("handled").Inc()

	if h.dedup != nil && msg.MessageID != "" {
		if err := h.dedup.MarkProcessed(ctx, msg.MessageID); err != nil {
			slog.Warn("InboundHandler.Process: mark processed failed", "messageID", msg.MessageID, "error", err)
		}
	}
	return reply, nil
}

// Deliver processes msg and sends the reply back through svc.
func (h *InboundHandler) Deliver(ctx context.Context, svc Service, msg models.InboundMessage) error {
	reply, err := h.Process(ctx, msg)
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	if err != nil {
		return err
	}
	if reply.ReplyText == "" {
		return nil
	}
	if err := svc.SendMessage(ctx, msg.RawPhone, reply.ReplyText); err != nil {
		inboundTotal.WithLabelValues("send_failed").Inc()
		return fmt.Errorf("failed to send reply via %s: %w", svc.Name(), err)
	}
	return nil
}

// Run consumes svc's inbound channel until it closes. Every message taken
// from the channel is answered: deliveries run on a context detached from
// ctx's cancellation. When ctx is done, Run handles what is already buffered
// and returns without waiting for the channel to close.
func (h *InboundHandler) Run(ctx context.Context, svc Service) error {
	slog.Info("InboundHandler.Run: started", "service", svc.Name(), "workers", h.workers)
	var g errgroup.Group
	g.SetLimit(h.workers)
	defer slog.Info("InboundHandler.Run: stopped", "service", svc.Name())

	deliverCtx := context.WithoutCancel(ctx)
	dispatch := func(msg models.InboundMessage) {
		g.Go(func() error {
			if err := h.Deliver(deliverCtx, svc, msg); err != nil {
				tail, _ := phone.Tail(msg.RawPhone)
				slog.Error("InboundHandler.Run: delivery failed", "service", svc.Name(), "tail", tail, "error", err)
			}
			return nil
		})
	}

	for {
		select {
		case <-ctx.Done():
			drained := drainBuffered(svc.Inbound(), dispatch)
			slog.Info("InboundHandler.Run: context done, handling buffered messages", "service", svc.Name(), "buffered", drained)
			g.Wait()
			return nil
		case msg, ok := <-svc.Inbound():
			if !ok {
				g.Wait()
				return nil
			}
			dispatch(msg)
		}
	}
}

// drainBuffered dispatches messages already queued on ch without blocking.
func drainBuffered(ch <-chan models.InboundMessage, dispatch func(models.InboundMessage)) int {
	n := 0
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return n
			}
			dispatch(msg)
			n++
		default:
			return n
		}
	}
}
