package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrDisconnected is returned to pending callers when the channel to the
	// manager closes before their reply arrives.
	ErrDisconnected = errors.New("ipc channel disconnected")
	// ErrNotConnected is returned when calling before Connect.
	ErrNotConnected = errors.New("ipc client not connected")
)

// Client is the cluster-side router. It multiplexes concurrent typed
// requests over one connection, resolving each pending caller by
// correlation token, and surfaces unsolicited pushes on a channel.
type Client struct {
	clusterID int
	addr      string
	logger    *zap.Logger

	mu      sync.Mutex
	conn    *serverConn
	pending map[string]chan json.RawMessage
	closed  chan struct{}

	pushes chan PushBatch
}

// NewClient creates a cluster-side IPC client for the given cluster ID.
func NewClient(clusterID int, addr string, logger *zap.Logger) *Client {
	return &Client{
		clusterID: clusterID,
		addr:      addr,
		logger:    logger.Named("ipc_client"),
		pending:   make(map[string]chan json.RawMessage),
		closed:    make(chan struct{}),
		pushes:    make(chan PushBatch, 16),
	}
}

// Connect dials the manager, identifies this cluster, and starts the read
// loop.
func (c *Client) Connect(ctx context.Context) error {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to dial manager at %s: %w", c.addr, err)
	}

	return c.Attach(conn)
}

// Attach uses a pre-established connection instead of dialing. Tests attach
// one end of an in-memory pipe.
func (c *Client) Attach(conn net.Conn) error {
	sc := &serverConn{conn: conn}

	if err := sc.writeFrame(&Frame{Kind: KindHello, Cluster: c.clusterID}); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send hello: %w", err)
	}

	c.mu.Lock()
	c.conn = sc
	c.mu.Unlock()

	go c.readLoop(sc)

	return nil
}

// Pushes returns the channel carrying unsolicited post-update batches from
// the manager.
func (c *Client) Pushes() <-chan PushBatch {
	return c.pushes
}

// Close tears down the connection and fails all pending callers.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
	default:
		close(c.closed)
	}

	if c.conn != nil {
		c.conn.conn.Close()
	}
}

// Call sends one typed request and blocks until the correlated reply, the
// context's cancellation, or a transport disconnect. A null reply (the
// manager's "no data" answer) returns nil raw data with a nil error.
func (c *Client) Call(ctx context.Context, action Action, payload any) (json.RawMessage, error) {
	c.mu.Lock()

	sc := c.conn
	if sc == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}

	token := uuid.New().String()
	ch := make(chan json.RawMessage, 1)
	c.pending[token] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, token)
		c.mu.Unlock()
	}()

	raw, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req := &Frame{Kind: KindRequest, Token: token, Action: action, Payload: raw}
	if err := sc.writeFrame(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case data := <-ch:
		return data, nil
	case <-c.closed:
		return nil, ErrDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do sends a request and decodes the reply into T. A null reply returns
// (nil, nil); callers treat that as "no data" per the channel contract.
func Do[T any](ctx context.Context, c *Client, action Action, payload any) (*T, error) {
	data, err := c.Call(ctx, action, payload)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var out T
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s reply: %w", action, err)
	}

	return &out, nil
}

// readLoop resolves pending callers and routes pushes until the connection
// closes. Replies for unknown or already-resolved tokens are discarded.
func (c *Client) readLoop(sc *serverConn) {
	scanner := bufio.NewScanner(sc.conn)
	scanner.Buffer(make([]byte, 64<<10), maxFrameSize)

	for scanner.Scan() {
		var f Frame
		if err := sonic.Unmarshal(scanner.Bytes(), &f); err != nil {
			c.logger.Warn("Dropping malformed frame", zap.Error(err))
			continue
		}

		switch f.Kind {
		case KindResponse:
			c.mu.Lock()
			ch, ok := c.pending[f.Token]

			if ok {
				delete(c.pending, f.Token)
			}
			c.mu.Unlock()

			if !ok {
				c.logger.Debug("Discarding reply for unknown token", zap.String("token", f.Token))
				continue
			}

			ch <- f.Data

		case KindPush:
			var batch PushBatch
			if err := sonic.Unmarshal(f.Data, &batch); err != nil {
				c.logger.Warn("Dropping malformed push batch", zap.Error(err))
				continue
			}

			select {
			case c.pushes <- batch:
			default:
				// Delivery is best-effort; a wedged consumer must not
				// stall the read loop.
				c.logger.Warn("Push channel full, dropping batch")
			}

		default:
			c.logger.Warn("Unexpected frame kind from manager", zap.String("kind", string(f.Kind)))
		}
	}

	c.Close()
	c.logger.Info("IPC channel closed")
}
