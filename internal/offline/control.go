package offline

import (
	"context"
	"log/slog"
)

// MessageType identifies a control message.
type MessageType string

const (
	MsgSkipWaiting MessageType = "SKIP_WAITING"
	MsgGetVersion  MessageType = "GET_VERSION"
	MsgCacheURLs   MessageType = "CACHE_URLS"
	MsgClearCache  MessageType = "CLEAR_CACHE"
)

// ReplyType identifies a control reply.
type ReplyType string

const (
	ReplyVersion      ReplyType = "VERSION"
	ReplyCacheSuccess ReplyType = "CACHE_SUCCESS"
	ReplyCacheError   ReplyType = "CACHE_ERROR"
	ReplyCacheCleared ReplyType = "CACHE_CLEARED"
)

// Message is a single control command. Reply, when non-nil, receives exactly
// one Reply for message types that answer; SkipWaiting never replies.
type Message struct {
	Type  MessageType
	URLs  []string
	Reply chan Reply
}

// Reply is the controller's answer to a control message.
type Reply struct {
	Type    ReplyType
	Version string
	URLs    []string
	Err     error
}

// Controller serializes control commands against a Manager. One goroutine
// owns the inbox, so commands are handled strictly in arrival order.
type Controller struct {
	manager *Manager
	inbox   chan Message
	logger  *slog.Logger
}

// NewController wires a controller to a manager. Run must be started for
// messages to be processed.
func NewController(m *Manager, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		manager: m,
		inbox:   make(chan Message, 16),
		logger:  logger,
	}
}

// Send delivers a control message. Blocks if the inbox is full; returns
// ctx.Err if the context ends first.
func (c *Controller) Send(ctx context.Context, msg Message) error {
	select {
	case c.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes messages until ctx ends. Each message with a Reply channel
// gets exactly one reply; unknown types are logged and dropped.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.inbox:
			c.handle(ctx, msg)
		}
	}
}

func (c *Controller) handle(ctx context.Context, msg Message) {
	switch msg.Type {
	case MsgSkipWaiting:
		if err := c.manager.SkipWaiting(ctx); err != nil {
			c.logger.Warn("skip waiting failed", "error", err)
		}
	case MsgGetVersion:
		c.reply(ctx, msg, Reply{Type: ReplyVersion, Version: c.manager.Version()})
	case MsgCacheURLs:
		if err := c.manager.CacheURLs(ctx, msg.URLs); err != nil {
			c.reply(ctx, msg, Reply{Type: ReplyCacheError, Err: err})
			return
		}
		c.reply(ctx, msg, Reply{Type: ReplyCacheSuccess, URLs: msg.URLs})
	case MsgClearCache:
		c.manager.ClearOwnedCaches()
		c.reply(ctx, msg, Reply{Type: ReplyCacheCleared})
	default:
		c.logger.Warn("unknown control message", "type", string(msg.Type))
	}
}

func (c *Controller) reply(ctx context.Context, msg Message, r Reply) {
	if msg.Reply == nil {
		return
	}
	select {
	case msg.Reply <- r:
	case <-ctx.Done():
	}
}
