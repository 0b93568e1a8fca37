package embedserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/grovekb/grove/internal/apperr"
	"github.com/grovekb/grove/internal/embedding"
)

// Queue bounds. A request waits at most queueWait for the worker; the
// worker is given at most workWait per request. Both produce a timeout
// error instead of an indefinitely blocked client.
const (
	queueDepth = 16
	queueWait  = 30 * time.Second
	workWait   = 90 * time.Second
)

type job struct {
	texts []string
	reply chan response
}

// Server holds exactly one embedding model warm and answers requests over a
// local unix socket. Requests are processed sequentially by a single worker
// (a model instance is not assumed safe for unmanaged concurrent use);
// independent connections pipeline behind the bounded queue.
type Server struct {
	model   ModelInfo
	backend embedding.Embedder
	logger  *slog.Logger
	queue   chan job
	stop    context.CancelFunc
}

// NewServer creates a daemon for the given model. A nil backend selects the
// local model runtime; tests inject a deterministic one.
func NewServer(model ModelInfo, backend embedding.Embedder, logger *slog.Logger) *Server {
	if backend == nil {
		backend = newRuntimeEmbedder(model)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		model:   model,
		backend: backend,
		logger:  logger,
		queue:   make(chan job, queueDepth),
	}
}

// Run listens on the socket and serves until ctx is cancelled or a stop
// command arrives. The old model/socket stays usable until Run has fully
// started; a failed start leaves no daemon state behind.
func (s *Server) Run(ctx context.Context) error {
	socket := SocketPath()

	ln, err := s.listen(ctx, socket)
	if err != nil {
		return err
	}
	defer ln.Close()
	defer os.Remove(socket)

	// Load the model before accepting traffic.
	if _, err := s.backend.Embed(ctx, "warmup"); err != nil {
		return fmt.Errorf("%w: load model %s: %v", apperr.ErrServerStartFailure, s.model.Alias, err)
	}

	pidPath := PIDPath()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		s.logger.Warn("write pid file failed", slog.String("error", err.Error()))
	}
	defer os.Remove(pidPath)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.stop = cancel

	s.logger.Info("embedding server ready",
		slog.String("model", s.model.Alias),
		slog.Int("dim", s.model.Dimensions),
		slog.String("socket", socket))

	g, gCtx := errgroup.WithContext(runCtx)

	// Sequential worker: one request in flight per model.
	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case j := <-s.queue:
				vecs, err := s.backend.EmbedBatch(gCtx, j.texts)
				if err != nil {
					j.reply <- errResponse(codeModelFailure, err.Error())
					continue
				}
				j.reply <- response{OK: true, Vectors: vecs, Model: s.model.Alias, Dim: s.model.Dimensions}
			}
		}
	})

	// Unblock Accept on shutdown.
	g.Go(func() error {
		<-gCtx.Done()
		ln.Close()
		return nil
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gCtx.Err() != nil {
					return nil
				}
				return fmt.Errorf("embedserver: accept: %w", err)
			}
			go s.handleConn(gCtx, conn)
		}
	})

	err = g.Wait()
	s.logger.Info("embedding server stopped")
	return err
}

// listen binds the socket, reclaiming it only if no live daemon answers.
func (s *Server) listen(ctx context.Context, socket string) (net.Listener, error) {
	ln, err := net.Listen("unix", socket)
	if err == nil {
		return ln, nil
	}

	probe := NewClient(s.model)
	if _, statusErr := probe.Status(ctx); statusErr == nil {
		return nil, fmt.Errorf("%w: endpoint %s already bound by a running server", apperr.ErrServerStartFailure, socket)
	}

	// Stale socket from a dead process.
	if rmErr := os.Remove(socket); rmErr != nil {
		return nil, fmt.Errorf("%w: bind %s: %v", apperr.ErrServerStartFailure, socket, err)
	}
	ln, err = net.Listen("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("%w: bind %s: %v", apperr.ErrServerStartFailure, socket, err)
	}
	return ln, nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(workWait + queueWait))

	data, err := io.ReadAll(io.LimitReader(conn, maxRequestBytes+1))
	if err != nil {
		return
	}
	if len(data) > maxRequestBytes {
		s.respond(conn, errResponse(codeRequestTooLarge,
			fmt.Sprintf("request exceeds %d bytes", maxRequestBytes)))
		return
	}

	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		s.respond(conn, errResponse(codeUnknownCommand, "malformed request"))
		return
	}

	switch req.Cmd {
	case cmdStatus:
		s.respond(conn, response{OK: true, Model: s.model.Alias, Dim: s.model.Dimensions})

	case cmdStop:
		s.respond(conn, response{OK: true})
		s.stop()

	case cmdEmbed:
		s.respond(conn, s.handleEmbed(ctx, req))

	default:
		s.respond(conn, errResponse(codeUnknownCommand, fmt.Sprintf("unknown command %q", req.Cmd)))
	}
}

func (s *Server) handleEmbed(ctx context.Context, req request) response {
	if len(req.Texts) == 0 {
		return errResponse(codeUnknownCommand, "embed requires texts")
	}
	if len(req.Texts) > maxBatchTexts {
		return errResponse(codeRequestTooLarge,
			fmt.Sprintf("batch of %d exceeds limit of %d", len(req.Texts), maxBatchTexts))
	}
	if req.Dim != 0 && req.Dim != s.model.Dimensions {
		return errResponse(codeDimensionMismatch,
			fmt.Sprintf("store expects %d dimensions, model %s produces %d", req.Dim, s.model.Alias, s.model.Dimensions))
	}

	j := job{texts: req.Texts, reply: make(chan response, 1)}

	select {
	case s.queue <- j:
	case <-time.After(queueWait):
		return errResponse(codeTimeout, "queue wait exceeded")
	case <-ctx.Done():
		return errResponse(codeTimeout, "server shutting down")
	}

	select {
	case resp := <-j.reply:
		return resp
	case <-time.After(workWait):
		return errResponse(codeTimeout, "embedding did not complete in time")
	case <-ctx.Done():
		return errResponse(codeTimeout, "server shutting down")
	}
}

func (s *Server) respond(conn net.Conn, resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response failed", slog.String("error", err.Error()))
		return
	}
	if _, err := conn.Write(data); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("write response failed", slog.String("error", err.Error()))
	}
}
