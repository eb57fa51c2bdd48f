// Package boardbus implements the optional board-write mirror: a
// republish of every board write onto an external NATS subject, purely
// for observability fan-out (SPEC_FULL.md §6/Non-goals — the router never
// depends on delivery through this bus). Grounded in the teacher's
// internal/events/bus.NATSEventBus connection/reconnect handling and
// internal/events.Provide's "empty URL means disabled" selection.
package boardbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/mnemnk/runtime/internal/agent/value"
	"github.com/mnemnk/runtime/internal/common/config"
	"github.com/mnemnk/runtime/internal/common/logger"
)

// Mirror republishes board writes onto NATS, implementing
// router.BoardMirror. A Mirror with a nil connection is a valid no-op
// value, which New returns when no NATS URL is configured, so the
// composition root can construct one unconditionally. An unreachable URL
// makes New return an error instead.
type Mirror struct {
	conn      *nats.Conn
	namespace string
	log       *logger.Logger
}

// boardMessage is the wire shape published to NATS for one board write.
type boardMessage struct {
	Board     string     `json:"board"`
	Data      value.Data `json:"data"`
	Timestamp time.Time  `json:"timestamp"`
}

// New connects to cfg.URL and returns a Mirror. An empty cfg.URL disables
// the mirror: the returned Mirror has no connection and PublishBoard
// becomes a no-op, matching the teacher's NATS-optional selection in
// events.Provide, simplified since board mirroring has no non-NATS
// fallback backend to select between.
func New(cfg config.NATSConfig, log *logger.Logger) (*Mirror, error) {
	if log == nil {
		log = logger.Default()
	}
	m := &Mirror{namespace: cfg.Namespace, log: log.With(zap.String("component", "board_bus"))}
	if cfg.URL == "" {
		return m, nil
	}

	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(5 * 1024 * 1024),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				m.log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			m.log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if err := nc.LastError(); err != nil {
				m.log.Error("nats connection closed", zap.Error(err))
			}
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("board bus: connect to nats: %w", err)
	}
	m.conn = conn
	m.log.Info("board bus connected", zap.String("url", cfg.URL))
	return m, nil
}

// subject returns the NATS subject a board write is published under.
func (m *Mirror) subject(boardName string) string {
	if m.namespace == "" {
		return "mnemnk.board." + boardName
	}
	return m.namespace + ".board." + boardName
}

// PublishBoard implements router.BoardMirror. Failures are logged, never
// surfaced to the router: per SPEC_FULL.md this bus is an observability
// fan-out, not something the router's dispatch path depends on.
func (m *Mirror) PublishBoard(boardName string, data value.Data) {
	if m.conn == nil {
		return
	}
	raw, err := json.Marshal(boardMessage{Board: boardName, Data: data, Timestamp: time.Now()})
	if err != nil {
		m.log.Warn("board bus: marshal failed", zap.String("board", boardName), zap.Error(err))
		return
	}
	if err := m.conn.Publish(m.subject(boardName), raw); err != nil {
		m.log.Warn("board bus: publish failed", zap.String("board", boardName), zap.Error(err))
	}
}

// Close drains and closes the NATS connection, if any.
func (m *Mirror) Close() {
	if m.conn == nil {
		return
	}
	if err := m.conn.Drain(); err != nil {
		m.log.Warn("board bus: drain failed, closing directly", zap.Error(err))
		m.conn.Close()
		return
	}
	m.log.Info("board bus connection closed")
}
