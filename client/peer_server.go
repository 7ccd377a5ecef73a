package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"
	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"peershare/common"
)

const (
	BodyEncoding    = "zstd"
	requestTimeout  = 10 * time.Second
	transferTimeout = 10 * time.Minute
)

// PeerServer serves files under root to other peers while its user is connected.
type PeerServer struct {
	root    string
	hidden  map[string]bool
	ln      net.Listener
	digests *ristretto.Cache

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// StartPeerServer listens on port (0 picks a free one) on every interface.
// The hidden paths are never served even when they lie under root.
func StartPeerServer(root string, port int, hidden ...string) (*PeerServer, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(common.ErrLocal, err.Error())
	}
	hide := make(map[string]bool, len(hidden))
	for _, h := range hidden {
		abs, err := filepath.Abs(h)
		if err != nil {
			return nil, errors.Wrap(common.ErrLocal, err.Error())
		}
		hide[abs] = true
	}

	digests, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "digest cache")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		digests.Close()
		return nil, errors.Wrapf(common.ErrLocal, "start peer server: %v", err)
	}

	p := &PeerServer{
		root:    root,
		hidden:  hide,
		ln:      ln,
		digests: digests,
		conns:   make(map[net.Conn]struct{}),
	}
	p.wg.Add(1)
	go p.acceptPeerConnections()

	glog.Infof("peer server listening on %s serving %s", p.Addr(), root)
	return p, nil
}

// Addr is the listening address without a host (":50123"); the tracker fills
// in the host this client is seen from.
func (p *PeerServer) Addr() string {
	if tcpAddr, ok := p.ln.Addr().(*net.TCPAddr); ok {
		return fmt.Sprintf(":%d", tcpAddr.Port)
	}
	return p.ln.Addr().String()
}

// Close stops accepting, aborts transfers in progress and waits for them.
func (p *PeerServer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	err := p.ln.Close()
	for conn := range p.conns {
		conn.Close()
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.digests.Close()
	return err
}

func (p *PeerServer) acceptPeerConnections() {
	defer p.wg.Done()
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}
			glog.Warningf("peer accept: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			conn.Close()
			return
		}
		p.conns[conn] = struct{}{}
		p.wg.Add(1)
		p.mu.Unlock()

		go p.handlePeerConn(conn)
	}
}

func (p *PeerServer) handlePeerConn(conn net.Conn) {
	defer func() {
		p.mu.Lock()
		delete(p.conns, conn)
		p.mu.Unlock()
		conn.Close()
		p.wg.Done()
	}()

	conn.SetDeadline(time.Now().Add(requestTimeout))

	var req common.Request
	if err := common.Recv(conn, &req); err != nil {
		glog.V(1).Infof("peer %s: read request: %v", conn.RemoteAddr(), err)
		return
	}
	if req.Op != common.OpGetFile {
		common.Send(conn, common.PeerHeader{Code: common.CodeBadRequest})
		return
	}

	if err := p.sendFile(conn, req.File); err != nil {
		glog.Warningf("peer %s: GET_FILE %s: %v", conn.RemoteAddr(), req.File, err)
	}
}

// resolve maps a requested name to a regular file inside root.
func (p *PeerServer) resolve(name string) (*os.File, os.FileInfo, error) {
	if !filepath.IsLocal(name) {
		return nil, nil, errors.Wrapf(common.ErrFileNotFound, "%q is outside the shared directory", name)
	}

	path := filepath.Join(p.root, name)
	if p.hidden[path] {
		return nil, nil, errors.Wrapf(common.ErrFileNotFound, "%q is not shared", name)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(common.ErrFileNotFound, err.Error())
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, errors.Wrapf(common.ErrFileNotFound, "%q is not a regular file", name)
	}
	return f, info, nil
}

func (p *PeerServer) sendFile(conn net.Conn, name string) error {
	f, info, err := p.resolve(name)
	if err != nil {
		common.Send(conn, common.PeerHeader{Code: common.CodeOf(err)})
		return err
	}
	defer f.Close()

	digest, err := p.digest(f, info)
	if err != nil {
		common.Send(conn, common.PeerHeader{Code: common.CodeInternal})
		return err
	}

	conn.SetDeadline(time.Now().Add(transferTimeout))
	hdr := common.PeerHeader{Code: common.CodeOK, Size: info.Size(), Digest: digest, Encoding: BodyEncoding}
	if err := common.Send(conn, hdr); err != nil {
		return err
	}

	enc, err := zstd.NewWriter(conn)
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, io.LimitReader(f, info.Size())); err != nil {
		enc.Close()
		return errors.Wrap(err, "stream body")
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, "flush body")
	}

	glog.Infof("sent %s (%s) to %s", name, humanize.Bytes(uint64(info.Size())), conn.RemoteAddr())
	return nil
}

// digest returns the xxhash64 of f, cached by path, size and modification time.
// f is left positioned at its start.
func (p *PeerServer) digest(f *os.File, info os.FileInfo) (uint64, error) {
	key := fmt.Sprintf("%s|%d|%d", f.Name(), info.Size(), info.ModTime().UnixNano())
	if v, ok := p.digests.Get(key); ok {
		return v.(uint64), nil
	}

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, errors.Wrap(err, "hash file")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	sum := h.Sum64()
	p.digests.Set(key, sum, 1)
	return sum, nil
}
