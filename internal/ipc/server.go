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
	"go.uber.org/zap"
)

// ErrClusterNotConnected is returned when pushing to a cluster with no live
// connection.
var ErrClusterNotConnected = errors.New("cluster not connected")

// maxFrameSize bounds a single wire frame. Push batches for large guilds
// stay well under this.
const maxFrameSize = 8 << 20

// Handler dispatches a decoded request to the manager's operations. A nil
// result with a nil error is a legitimate "no data" reply.
type Handler interface {
	Handle(ctx context.Context, action Action, payload json.RawMessage) (any, error)
}

// serverConn is one connected cluster.
type serverConn struct {
	conn    net.Conn
	writeMu sync.Mutex
}

// writeFrame serializes a frame to the connection. Writes from concurrent
// request handlers are serialized per connection.
func (sc *serverConn) writeFrame(f *Frame) error {
	buf, err := sonic.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	_, err = sc.conn.Write(append(buf, '\n'))

	return err
}

// Server is the manager-side router. It accepts one connection per cluster,
// dispatches requests to the handler, and guarantees every request gets a
// reply frame (null data on handler failure) or a transport disconnect.
type Server struct {
	addr    string
	handler Handler
	logger  *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[int]*serverConn
}

// NewServer creates a manager-side IPC server.
func NewServer(addr string, handler Handler, logger *zap.Logger) *Server {
	return &Server{
		addr:    addr,
		handler: handler,
		logger:  logger.Named("ipc_server"),
		conns:   make(map[int]*serverConn),
	}
}

// Listen binds the address and serves cluster connections until the context
// is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("IPC server listening", zap.String("addr", s.addr))

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("accept failed: %w", err)
		}

		go s.serve(ctx, conn)
	}
}

// ServeConn handles a single pre-established connection, blocking until it
// closes. Listen uses it for accepted connections; tests drive it directly
// over an in-memory pipe.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	s.serve(ctx, conn)
}

// serve reads frames from one cluster connection. The first frame must be a
// hello identifying the cluster; everything after is a request.
func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sc := &serverConn{conn: conn}
	clusterID := -1

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64<<10), maxFrameSize)

	for scanner.Scan() {
		var f Frame
		if err := sonic.Unmarshal(scanner.Bytes(), &f); err != nil {
			s.logger.Warn("Dropping malformed frame", zap.Error(err))
			continue
		}

		switch f.Kind {
		case KindHello:
			clusterID = f.Cluster
			s.register(clusterID, sc)
			s.logger.Info("Cluster connected", zap.Int("clusterID", clusterID))

		case KindRequest:
			go s.handleRequest(ctx, sc, &f)

		default:
			s.logger.Warn("Unexpected frame kind from cluster",
				zap.String("kind", string(f.Kind)),
				zap.Int("clusterID", clusterID))
		}
	}

	if clusterID >= 0 {
		s.unregister(clusterID, sc)
		s.logger.Info("Cluster disconnected", zap.Int("clusterID", clusterID))
	}
}

// handleRequest dispatches one request and always writes a reply carrying
// the request's token. Handler errors and panics reply with null data so the
// caller never hangs on a dropped token.
func (s *Server) handleRequest(ctx context.Context, sc *serverConn, req *Frame) {
	var data json.RawMessage

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Request handler panicked",
					zap.String("action", string(req.Action)),
					zap.Any("panic", r))

				data = nil
			}
		}()

		result, err := s.handler.Handle(ctx, req.Action, req.Payload)
		if err != nil {
			s.logger.Debug("Request handler failed",
				zap.String("action", string(req.Action)),
				zap.Error(err))

			return
		}

		if result == nil {
			return
		}

		buf, err := sonic.Marshal(result)
		if err != nil {
			s.logger.Error("Failed to marshal result",
				zap.String("action", string(req.Action)),
				zap.Error(err))

			return
		}

		data = buf
	}()

	reply := &Frame{Kind: KindResponse, Token: req.Token, Data: data}
	if err := sc.writeFrame(reply); err != nil {
		s.logger.Warn("Failed to write reply", zap.String("token", req.Token), zap.Error(err))
	}
}

// Push sends an unsolicited batch to the cluster that owns the affected
// guilds.
func (s *Server) Push(clusterID int, batch PushBatch) error {
	s.mu.Lock()
	sc, ok := s.conns[clusterID]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrClusterNotConnected, clusterID)
	}

	data, err := sonic.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal push batch: %w", err)
	}

	return sc.writeFrame(&Frame{Kind: KindPush, Data: data})
}

// Connected returns the IDs of currently connected clusters.
func (s *Server) Connected() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}

	return ids
}

func (s *Server) register(clusterID int, sc *serverConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A reconnecting cluster replaces its stale connection.
	if old, ok := s.conns[clusterID]; ok && old != sc {
		old.conn.Close()
	}

	s.conns[clusterID] = sc
}

func (s *Server) unregister(clusterID int, sc *serverConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.conns[clusterID]; ok && cur == sc {
		delete(s.conns, clusterID)
	}
}
