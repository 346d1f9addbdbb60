package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"time"

	perrors "github.com/jmgilman/go/errors"

	"github.com/leonardcser/flash-offline/internal/cache"
	"github.com/leonardcser/flash-offline/internal/lifecycle"
	"github.com/leonardcser/flash-offline/internal/logger"
	"github.com/leonardcser/flash-offline/internal/worker"
)

// DefaultWait is the long-poll window of a "next" request without WaitMS.
const DefaultWait = 25 * time.Second

// Inspector is the read side of the cache exposed to pages.
type Inspector interface {
	Match(partition string, key cache.Key, opts cache.MatchOptions) (*cache.Response, bool, error)
	Stats() ([]cache.PartitionStats, error)
}

// Server answers control requests for one registration.
type Server struct {
	reg    *worker.Registration
	caches Inspector
	// Script returns the script to install on "update".
	script func() (worker.Script, error)
}

// NewServer builds a Server. script may be nil, which disables "update".
func NewServer(reg *worker.Registration, caches Inspector, script func() (worker.Script, error)) *Server {
	return &Server{reg: reg, caches: caches, script: script}
}

// Serve accepts connections until l is closed.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warnf("control accept: %v", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp, err := s.handle(ctx, &req)
		if err != nil {
			resp = Response{OK: false, Error: err.Error(), Code: string(perrors.GetCode(err))}
		}
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, req *Request) (Response, error) {
	switch req.Op {
	case OpStatus:
		st := s.reg.Status()
		return Response{OK: true, Status: &st}, nil
	case OpConnect:
		return Response{OK: true, Client: s.reg.Connect().ID()}, nil
	case OpDisconnect:
		c, err := s.client(req.Client)
		if err != nil {
			return Response{}, err
		}
		return Response{OK: true}, s.reg.Disconnect(ctx, c)
	case OpWaiting:
		return Response{OK: true, Waiting: s.reg.Waiting() != nil}, nil
	case OpMessage:
		if req.Message == nil {
			return Response{}, perrors.New(perrors.CodeInvalidInput, "message without payload")
		}
		return Response{OK: true}, s.reg.PostToWaiting(ctx, *req.Message)
	case OpNext:
		return s.next(ctx, req)
	case OpMatch:
		return s.match(req.URL)
	case OpStats:
		stats, err := s.caches.Stats()
		if err != nil {
			return Response{}, err
		}
		return Response{OK: true, Partitions: stats}, nil
	case OpUpdate:
		if s.script == nil {
			return Response{}, perrors.New(perrors.CodeNotImplemented, "update is disabled")
		}
		script, err := s.script()
		if err != nil {
			return Response{}, err
		}
		w, err := s.reg.Update(ctx, script)
		if err != nil {
			return Response{}, err
		}
		return Response{OK: true, Worker: &worker.WorkerInfo{ID: w.ID(), Generation: string(w.Generation()), State: s.reg.State(w)}}, nil
	}
	return Response{}, perrors.Newf(perrors.CodeInvalidInput, "unknown op %q", req.Op)
}

func (s *Server) client(id string) (*worker.Client, error) {
	c, ok := s.reg.Client(id)
	if !ok {
		return nil, perrors.Newf(perrors.CodeNotFound, "unknown client %q", id)
	}
	return c, nil
}

func (s *Server) next(ctx context.Context, req *Request) (Response, error) {
	c, err := s.client(req.Client)
	if err != nil {
		return Response{}, err
	}
	wait := DefaultWait
	if req.WaitMS > 0 {
		wait = time.Duration(req.WaitMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	n, err := c.Next(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return Response{OK: true}, nil
	}
	if err != nil {
		return Response{}, err
	}
	env := lifecycle.Wrap(n)
	return Response{OK: true, Notification: &env}, nil
}

func (s *Server) match(raw string) (Response, error) {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return Response{}, perrors.Newf(perrors.CodeInvalidInput, "url %q is not absolute", raw)
	}
	entry, ok, err := s.caches.Match(cache.AllPartitions, cache.KeyOf(u), cache.MatchOptions{IgnoreQuery: true})
	if err != nil {
		return Response{}, err
	}
	if !ok {
		return Response{}, perrors.Newf(perrors.CodeNotFound, "%s is not cached", raw)
	}
	return Response{OK: true, Entry: entry}, nil
}
