package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
	"github.com/chenziqing0111/agent-core-2/internal/core/ports"
	"github.com/chenziqing0111/agent-core-2/internal/infrastructure/resilience"
)

const queueGroup = "evidence-workers"

// Queue carries evidence requests over NATS request/reply.
type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	defaults domain.RetrievalOptions
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	// Defaults prefill request options a publisher leaves out.
	Defaults domain.RetrievalOptions
	Logger   *slog.Logger
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("evidence-engine"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		defaults: options.Defaults,
		logger:   logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// reply is the response envelope; exactly one field is set.
type reply struct {
	Bundle *domain.EvidenceBundle `json:"bundle,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// RequestEvidence publishes req and waits for a worker's bundle.
func (q *Queue) RequestEvidence(ctx context.Context, req domain.EvidenceRequest) (*domain.EvidenceBundle, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode evidence request: %w", err)
	}

	msg, err := resilience.Do(ctx, q.executor, "nats.request", func(ctx context.Context) (*nats.Msg, error) {
		msg, err := q.conn.RequestWithContext(ctx, q.subject, payload)
		if err != nil {
			return nil, fmt.Errorf("nats request: %w", err)
		}
		return msg, nil
	}, classifyNATSError)
	if err != nil {
		return nil, wrapTemporaryIfNeeded(err)
	}
	return decodeReply(msg.Data)
}

func (q *Queue) SubscribeEvidenceRequests(ctx context.Context, handler ports.EvidenceRequestHandler) error {
	sub, err := q.conn.QueueSubscribe(q.subject, queueGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		out := q.process(handlerCtx, msg.Data, handler)
		if msg.Reply == "" {
			return
		}
		if err := q.respond(ctx, msg, out); err != nil {
			q.logger.Error("nats_respond_failed", "subject", msg.Subject, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) respond(ctx context.Context, msg *nats.Msg, data []byte) error {
	call := func(context.Context) error {
		if err := msg.Respond(data); err != nil {
			return fmt.Errorf("nats respond: %w", err)
		}
		return nil
	}
	if q.executor == nil {
		return call(ctx)
	}
	return q.executor.Execute(ctx, "nats.respond", call, classifyNATSError)
}

// process decodes one request, runs handler and encodes the reply.
func (q *Queue) process(ctx context.Context, data []byte, handler ports.EvidenceRequestHandler) []byte {
	req := domain.EvidenceRequest{Options: q.defaults}
	if err := json.Unmarshal(data, &req); err != nil {
		q.logger.Warn("evidence_request_invalid", "error", err)
		return encodeReply(reply{Error: domain.WrapError(domain.ErrInvalidInput, "decode evidence request", err).Error()})
	}

	bundle, err := handler(ctx, req)
	if err != nil {
		q.logger.Error("evidence_request_failed", "documents", len(req.Documents), "error", err)
		return encodeReply(reply{Error: err.Error()})
	}
	return encodeReply(reply{Bundle: bundle})
}

func encodeReply(r reply) []byte {
	data, err := json.Marshal(r)
	if err != nil {
		data, _ = json.Marshal(reply{Error: fmt.Sprintf("encode reply: %v", err)})
	}
	return data
}

func decodeReply(data []byte) (*domain.EvidenceBundle, error) {
	var r reply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode evidence reply: %w", err)
	}
	if r.Error != "" {
		return nil, fmt.Errorf("worker: %s", r.Error)
	}
	if r.Bundle == nil {
		return nil, fmt.Errorf("worker reply carried no bundle")
	}
	return r.Bundle, nil
}
