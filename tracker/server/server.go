// Package server answers directory requests over framed connections.
package server

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"peershare/common"
	"peershare/registry"
)

// Server answers directory requests. A connection may carry any number of
// request/response pairs; it is dropped after idleTimeout without a request.
type Server struct {
	reg         *registry.Registry
	idleTimeout time.Duration

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

func NewServer(reg *registry.Registry, idleTimeout time.Duration) *Server {
	return &Server{
		reg:         reg,
		idleTimeout: idleTimeout,
		conns:       make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until ln is closed.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				glog.Warningf("accept: %v", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return errors.Wrap(err, "accept")
		}

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.handleConn(conn)
	}
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// Shutdown wakes every connection waiting for a request and waits for the
// in-flight ones to answer. Connections accepted afterwards are closed at once;
// the caller closes the listener after Shutdown returns.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closing = true
	for conn := range s.conns {
		conn.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// armDeadline sets the idle deadline for the next request. It is serialized
// with Shutdown so a closing server's deadline is never pushed back.
func (s *Server) armDeadline(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	var d time.Time
	if s.idleTimeout > 0 {
		d = time.Now().Add(s.idleTimeout)
	}
	conn.SetReadDeadline(d)
	return true
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	glog.V(1).Infof("connection from %s", remote)

	for {
		if !s.armDeadline(conn) {
			return
		}

		var req common.Request
		if err := common.Recv(conn, &req); err != nil {
			if errors.Cause(err) == common.ErrMalformedFrame {
				glog.Warningf("%s: bad request: %v", remote, err)
				if err := common.Send(conn, common.Response{Code: common.CodeBadRequest, Message: err.Error()}); err != nil {
					return
				}
				continue
			}
			if err != io.EOF && !isTimeout(err) {
				glog.Warningf("%s: read request: %v", remote, err)
			}
			return
		}

		if req.Op == common.OpConnect {
			req.Address = peerAddress(conn.RemoteAddr(), req.Address)
		}

		resp := s.dispatch(req)
		glog.V(1).Infof("%s %s %s user=%q file=%q -> %s", remote, req.ID, req.Op, req.User, req.File, resp.Code)

		if err := common.Send(conn, resp); err != nil {
			glog.Warningf("%s: write response: %v", remote, err)
			return
		}
	}
}

// peerAddress fills in the host of a peer listener address that was sent
// without one (":port" or an unspecified IP) from the connection's remote address.
func peerAddress(remote net.Addr, addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if ip := net.ParseIP(host); host != "" && (ip == nil || !ip.IsUnspecified()) {
		return addr
	}

	tcp, ok := remote.(*net.TCPAddr)
	if !ok {
		return addr
	}
	return net.JoinHostPort(tcp.IP.String(), port)
}

func isTimeout(err error) bool {
	ne, ok := errors.Cause(err).(net.Error)
	return ok && ne.Timeout()
}
