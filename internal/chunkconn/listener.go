package chunkconn

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"chunkserver/internal/logging"
)

// Server accepts inbound client/peer connections and hands each to a
// handler goroutine, the same accept-loop shape as the teacher's
// syslog TCP ingester (ListenConfig + context-cancelled Accept loop +
// one goroutine per connection tracked by a WaitGroup).
type Server struct {
	logger  *slog.Logger
	addr    string
	lc      net.ListenConfig
	ln      net.Listener
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	handler func(ctx context.Context, conn net.Conn)
}

// Listen starts accepting on addr, dispatching every connection to
// handler. Call Close to stop accepting and wait for in-flight
// connections' handlers to return.
func Listen(ctx context.Context, addr string, logger *slog.Logger, handler func(ctx context.Context, conn net.Conn)) (*Server, error) {
	ctx, cancel := context.WithCancel(ctx)

	s := &Server{
		logger:  logging.Default(logger).With("component", "chunkconn"),
		addr:    addr,
		cancel:  cancel,
		handler: handler,
	}

	ln, err := s.lc.Listen(ctx, "tcp", addr)
	if err != nil {
		cancel()
		return nil, err
	}
	s.ln = ln

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	return s, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "err", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handler(ctx, conn)
		}()
	}
}

// Close stops accepting new connections and waits for every in-flight
// handler to return.
func (s *Server) Close() error {
	s.cancel()
	err := s.ln.Close()
	s.wg.Wait()
	return err
}
