// Package bridge feeds notifications published on NATS into the realtime
// dispatcher, so services that do not share the process can still reach
// connected users.
package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-realtime/internal/server"
)

// QueueGroup is shared by every instance so each message is handled once.
const QueueGroup = "gochat-notify"

// Config describes the NATS connection.
type Config struct {
	URL           string
	Name          string
	SubjectPrefix string
	ReconnectWait time.Duration
	Timeout       time.Duration
	// DispatchTimeout bounds how long a message may wait for the hub.
	DispatchTimeout time.Duration
}

func (c *Config) norm() {
	if c.Name == "" {
		c.Name = "gochat-realtime"
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "notify"
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 2 * time.Second
	}
}

// UserSubject is the subject that targets one user.
func UserSubject(prefix, userID string) string {
	return prefix + ".user." + userID
}

// RoomSubject is the subject that targets one room.
func RoomSubject(prefix, room string) string {
	return prefix + ".room." + room
}

// Bridge subscribes to <prefix>.user.* and <prefix>.room.* and forwards the
// decoded notifications to a Dispatcher.
type Bridge struct {
	cfg        Config
	dispatcher server.Dispatcher
	logger     *zap.Logger

	nc   *nats.Conn
	subs []*nats.Subscription
}

// New creates a bridge; call Start to connect.
func New(cfg Config, dispatcher server.Dispatcher, logger *zap.Logger) *Bridge {
	cfg.norm()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger.Named("bridge"),
	}
}

// Start connects to NATS and subscribes to the notification subjects.
func (b *Bridge) Start() error {
	if b.cfg.URL == "" {
		return errors.New("nats url is empty")
	}

	nc, err := nats.Connect(b.cfg.URL,
		nats.Name(b.cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(b.cfg.ReconnectWait),
		nats.Timeout(b.cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			b.logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return errors.Wrapf(err, "connect to nats at %s", b.cfg.URL)
	}
	b.nc = nc

	for _, subject := range []string{
		UserSubject(b.cfg.SubjectPrefix, "*"),
		RoomSubject(b.cfg.SubjectPrefix, "*"),
	} {
		sub, err := nc.QueueSubscribe(subject, QueueGroup, b.HandleMsg)
		if err != nil {
			_ = b.Close()
			return errors.Wrapf(err, "subscribe %s", subject)
		}
		b.subs = append(b.subs, sub)
	}

	b.logger.Info("nats bridge subscribed",
		zap.String("url", nc.ConnectedUrl()),
		zap.String("prefix", b.cfg.SubjectPrefix))
	return nil
}

// HandleMsg decodes one notification message and dispatches it. Malformed
// messages are logged and dropped.
func (b *Bridge) HandleMsg(msg *nats.Msg) {
	kind, target, ok := b.parseSubject(msg.Subject)
	if !ok {
		b.logger.Warn("ignoring message on unexpected subject", zap.String("subject", msg.Subject))
		return
	}

	var n server.Notification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		b.logger.Warn("invalid notification payload", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if n.Type == "" {
		b.logger.Warn("notification without type", zap.String("subject", msg.Subject))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.DispatchTimeout)
	defer cancel()

	var err error
	switch kind {
	case "user":
		err = b.dispatcher.NotifyUser(ctx, target, n)
	case "room":
		err = b.dispatcher.NotifyRoom(ctx, target, n)
	}
	if err != nil {
		b.logger.Warn("dispatching notification failed",
			zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// parseSubject splits <prefix>.<kind>.<target>. The subscriptions use a
// single-token wildcard, so targets never contain dots.
func (b *Bridge) parseSubject(subject string) (kind, target string, ok bool) {
	rest, found := strings.CutPrefix(subject, b.cfg.SubjectPrefix+".")
	if !found {
		return "", "", false
	}

	kind, target, found = strings.Cut(rest, ".")
	if !found || target == "" {
		return "", "", false
	}
	if kind != "user" && kind != "room" {
		return "", "", false
	}
	return kind, target, true
}

// Close drains subscriptions and the connection.
func (b *Bridge) Close() error {
	for _, sub := range b.subs {
		_ = sub.Drain()
	}
	b.subs = nil

	if b.nc == nil {
		return nil
	}
	err := b.nc.Drain()
	b.nc = nil
	return err
}
