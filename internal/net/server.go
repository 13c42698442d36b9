package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	. "meridian/internal/common"
	"meridian/internal/engine"
	"meridian/internal/worker"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	// MaxTradesPerReport caps a TradesReport well inside MaxFrameSize.
	MaxTradesPerReport = 2000

	defaultNWorkers     = 64
	defaultIdleTimeout  = 5 * time.Minute
	defaultWriteTimeout = 5 * time.Second
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
)

// ClientSession contains relevant information pertaining to an individual
// connected TCP session.
type ClientSession struct {
	conn       net.Conn
	writeLock  sync.Mutex
	subscribed atomic.Bool
}

func (c *ClientSession) address() string { return c.conn.RemoteAddr().String() }

// send writes one report frame. Responses and broadcasts share the
// connection, so writes are serialized. A report that cannot be encoded is
// replaced by an error report saying why, so the session survives it.
func (c *ClientSession) send(r Report, timeout time.Duration) error {
	payload, err := MarshalReport(r)
	if err != nil {
		log.Error().
			Err(err).
			Str("address", c.address()).
			Msg("unable to encode report")
		if payload, err = MarshalReport(ErrorReportMessage{Err: err.Error()}); err != nil {
			return err
		}
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return writeFrame(c.conn, payload)
}

// request is one frame read off a session, waiting for a worker.
type request struct {
	session *ClientSession
	frame   []byte
	done    chan error // Result of sending the reply.
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithWorkers sets how many requests are handled concurrently. Sessions are
// not bounded by it; an idle session holds no worker.
func WithWorkers(n int) ServerOption {
	return func(s *Server) { s.pool = worker.NewWorkerPool(n) }
}

// WithIdleTimeout closes sessions that send nothing for d.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.idleTimeout = d }
}

// WithWriteTimeout bounds each report write.
func WithWriteTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.writeTimeout = d }
}

type Server struct {
	address      string
	port         int
	engine       *engine.Engine
	pool         *worker.WorkerPool
	idleTimeout  time.Duration
	writeTimeout time.Duration

	clientSessions     map[string]*ClientSession
	clientSessionsLock sync.Mutex

	ready     chan struct{}
	listener  net.Listener
	listenErr error
}

func New(address string, port int, eng *engine.Engine, opts ...ServerOption) *Server {
	s := &Server{
		address:        address,
		port:           port,
		engine:         eng,
		pool:           worker.NewWorkerPool(defaultNWorkers),
		idleTimeout:    defaultIdleTimeout,
		writeTimeout:   defaultWriteTimeout,
		clientSessions: make(map[string]*ClientSession),
		ready:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addr blocks until the listener is bound and returns its address, or the
// error that kept it from binding.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ready:
		if s.listenErr != nil {
			return nil, s.listenErr
		}
		return s.listener.Addr(), nil
	}
}

// Run serves until ctx is cancelled or a worker fails.
func (s *Server) Run(ctx context.Context) error {
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		s.listenErr = err
		close(s.ready)
		return err
	}
	s.listener = listener
	close(s.ready)

	// Start the worker pool.
	s.pool.Setup(t, s.handleRequest)

	// Closing the listener and sessions unblocks Accept and every Read.
	t.Go(func() error {
		<-t.Dying()
		log.Info().Msg("server shutting down")
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
		s.closeAllSessions()
		return nil
	})

	t.Go(func() error {
		return s.accept(t, listener)
	})

	log.Info().
		Str("address", listener.Addr().String()).
		Int("workers", s.pool.Size()).
		Msg("server running")

	err = t.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) accept(t *tomb.Tomb, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-t.Dying():
				return nil
			default:
			}
			log.Error().Err(err).Msg("error accepting client")
			continue
		}

		log.Info().
			Str("address", conn.RemoteAddr().String()).
			Msg("new client added")
		// Add the client to client sessions we are tracking.
		// We expect to potentially maintain a long TCP session.
		session := s.addClientSession(conn)

		// Each session reads on its own goroutine; only requests take a
		// worker.
		t.Go(func() error {
			return s.serveSession(t, session)
		})
	}
}

// ReportOrder broadcasts an order event to every subscribed session.
// Sessions that cannot be written to are dropped.
func (s *Server) ReportOrder(ctx context.Context, event OrderEvent) error {
	s.clientSessionsLock.Lock()
	targets := make([]*ClientSession, 0, len(s.clientSessions))
	for _, session := range s.clientSessions {
		if session.subscribed.Load() {
			targets = append(targets, session)
		}
	}
	s.clientSessionsLock.Unlock()

	report := OrderEventMessage{Event: event}
	var errs []error
	for _, session := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := session.send(report, s.writeTimeout); err != nil {
			errs = append(errs, fmt.Errorf("unable to send event to %s: %w", session.address(), err))
			s.deleteClientSession(session)
		}
	}
	return errors.Join(errs...)
}

// serveSession reads requests off one session until the client leaves, idles
// out, or the server dies, handing each to the worker pool and waiting for
// its reply before reading the next. The session is cleaned up on return.
func (s *Server) serveSession(t *tomb.Tomb, session *ClientSession) error {
	defer s.deleteClientSession(session)

	for {
		select {
		case <-t.Dying():
			return nil
		default:
		}

		if err := session.conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
			log.Error().
				Str("address", session.address()).
				Err(err).
				Msg("failed setting deadline for connection")
			return nil
		}

		frame, err := readFrame(session.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Error().
					Err(err).
					Str("address", session.address()).
					Msg("error reading from connection")
			}
			return nil
		}

		req := &request{session: session, frame: frame, done: make(chan error, 1)}
		if !s.pool.AddTask(t, req) {
			return nil
		}

		select {
		case <-t.Dying():
			return nil
		case err := <-req.done:
			if err != nil {
				log.Error().
					Err(err).
					Str("address", session.address()).
					Msg("unable to send report")
				return nil
			}
		}
	}
}

// handleRequest is a short-lived worker method which parses one request,
// actions it and writes the reply.
// Note, any error returned from here is fatal.
func (s *Server) handleRequest(t *tomb.Tomb, task any) error {
	req, ok := task.(*request)
	if !ok {
		return ErrImproperConversion
	}

	var report Report
	message, err := parseMessage(req.frame)
	if err != nil {
		log.Error().
			Err(err).
			Str("address", req.session.address()).
			Msg("error parsing message")
		report = ErrorReportMessage{Err: err.Error()}
	} else {
		report = s.handleMessage(t.Context(context.Background()), req.session, message)
	}

	req.done <- req.session.send(report, s.writeTimeout)
	return nil
}

// handleMessage maps one request to its report. Failures become error
// reports; the session stays open.
func (s *Server) handleMessage(ctx context.Context, session *ClientSession, message Message) Report {
	switch m := message.(type) {
	case NewOrderMessage:
		exec, err := s.engine.PlaceOrder(ctx, m.Order())
		if err != nil {
			log.Info().
				Err(err).
				Str("address", session.address()).
				Str("symbol", m.Symbol).
				Msg("order rejected")
			return ErrorReportMessage{Err: err.Error()}
		}
		return OrderAckReport{Order: exec.Order, Trades: exec.Trades}

	case QueryBookMessage:
		snap, err := s.engine.Snapshot(m.Symbol, int(m.Depth))
		if err != nil {
			return ErrorReportMessage{Err: err.Error()}
		}
		return BookSnapshotReport{Snapshot: snap}

	case QueryTradesMessage:
		// A zero limit keeps the engine default.
		limit := min(int(m.Limit), MaxTradesPerReport)
		trades, err := s.engine.RecentTrades(m.Symbol, limit)
		if err != nil {
			return ErrorReportMessage{Err: err.Error()}
		}
		return RecentTradesReport{Symbol: m.Symbol, Trades: trades}
	}

	switch message.GetType() {
	case Heartbeat:
		return HeartbeatAck{}
	case Subscribe:
		session.subscribed.Store(true)
		log.Info().Str("address", session.address()).Msg("client subscribed")
		return SymbolListReport{Symbols: s.engine.Symbols()}
	case ListSymbols:
		return SymbolListReport{Symbols: s.engine.Symbols()}
	}
	return ErrorReportMessage{Err: ErrInvalidMessageType.Error()}
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) *ClientSession {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	session := &ClientSession{conn: conn}
	s.clientSessions[session.address()] = session
	return session
}

// deleteClientSession is an atomic map remove. It closes the connection the
// first time a session is removed.
func (s *Server) deleteClientSession(session *ClientSession) {
	s.clientSessionsLock.Lock()
	current, ok := s.clientSessions[session.address()]
	if ok && current == session {
		delete(s.clientSessions, session.address())
	}
	s.clientSessionsLock.Unlock()

	if ok && current == session {
		if err := session.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Error().Str("address", session.address()).Err(err).Msg("unable to close connection")
		}
		log.Info().Str("address", session.address()).Msg("client removed")
	}
}

func (s *Server) closeAllSessions() {
	s.clientSessionsLock.Lock()
	sessions := make([]*ClientSession, 0, len(s.clientSessions))
	for _, session := range s.clientSessions {
		sessions = append(sessions, session)
	}
	s.clientSessionsLock.Unlock()

	for _, session := range sessions {
		s.deleteClientSession(session)
	}
}

// Sessions reports how many clients are connected.
func (s *Server) Sessions() int {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	return len(s.clientSessions)
}
