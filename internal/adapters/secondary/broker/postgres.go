package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorrc/notify-gateway/internal/core/domain"
	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
	"github.com/lorrc/notify-gateway/internal/core/ports"
)

// maxNotifyPayload is PostgreSQL's NOTIFY payload limit minus one byte for
// the terminator.
const maxNotifyPayload = 7999

const (
	minListenBackoff = 250 * time.Millisecond
	maxListenBackoff = 10 * time.Second
)

// Postgres fans envelopes out over LISTEN/NOTIFY. Publishing goes through a
// pool; listening holds one dedicated connection that is re-established
// with backoff when it drops.
type Postgres struct {
	url     string
	channel string
	pool    *pgxpool.Pool
	status  *statusTracker
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ ports.Broker = (*Postgres)(nil)

func NewPostgres(ctx context.Context, url, channel string, logger *slog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres broker: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres broker ping: %w", err)
	}

	return &Postgres{
		url:     url,
		channel: channel,
		pool:    pool,
		status:  newStatusTracker(BackendPostgres),
		logger:  logger.With("component", "broker", "backend", BackendPostgres),
	}, nil
}

func (p *Postgres) Name() string { return BackendPostgres }

func (p *Postgres) Publish(ctx context.Context, env domain.Envelope) error {
	payload, err := encodeEnvelope(env)
	if err != nil {
		p.status.recordPublish(err)
		return err
	}
	if len(payload) > maxNotifyPayload {
		err := fmt.Errorf("%w: %d bytes", apperrors.ErrEnvelopeTooLarge, len(payload))
		p.status.recordPublish(err)
		return err
	}

	_, err = p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, string(payload))
	if err != nil {
		err = fmt.Errorf("%w: %v", apperrors.ErrBrokerUnavailable, err)
	}
	p.status.recordPublish(err)
	return err
}

// Start opens the listener connection and returns once LISTEN succeeded.
func (p *Postgres) Start(ctx context.Context, handler ports.EnvelopeHandler) error {
	conn, err := p.listen(ctx)
	if err != nil {
		return err
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx, conn, handler)
	}()
	return nil
}

func (p *Postgres) listen(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, p.url)
	if err != nil {
		p.status.recordError(err)
		return nil, fmt.Errorf("postgres broker listen: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		p.status.recordError(err)
		return nil, fmt.Errorf("postgres broker listen: %w", err)
	}
	p.status.setConnected(true)
	return conn, nil
}

func (p *Postgres) loop(ctx context.Context, conn *pgx.Conn, handler ports.EnvelopeHandler) {
	defer func() {
		if conn != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = conn.Close(closeCtx)
			cancel()
		}
		p.status.setConnected(false)
	}()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err == nil {
			receive([]byte(n.Payload), handler, p.status, p.logger)
			continue
		}
		if ctx.Err() != nil {
			return
		}

		p.logger.Warn("listener connection lost", "error", err)
		p.status.setConnected(false)
		p.status.recordError(err)
		_ = conn.Close(context.Background())

		conn = p.reconnect(ctx)
		if conn == nil {
			return
		}
	}
}

// reconnect retries LISTEN with exponential backoff until it succeeds or
// ctx is done, in which case it returns nil.
func (p *Postgres) reconnect(ctx context.Context) *pgx.Conn {
	backoff := minListenBackoff
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		conn, err := p.listen(ctx)
		if err == nil {
			p.logger.Info("listener reconnected")
			return conn
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		p.logger.Warn("listener reconnect failed", "error", err, "retry_in", backoff)
		backoff = min(backoff*2, maxListenBackoff)
	}
}

// Health fails when the pool cannot be pinged or, once started, when the
// listener connection is down and being re-established.
func (p *Postgres) Health(ctx context.Context) error {
	if p.cancel != nil && !p.status.isConnected() {
		return fmt.Errorf("%w: listener disconnected", apperrors.ErrBrokerUnavailable)
	}
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrBrokerUnavailable, err)
	}
	return nil
}

func (p *Postgres) Status() domain.BrokerStatus { return p.status.snapshot() }

func (p *Postgres) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.pool.Close()
	return nil
}
