package main

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"peershare/common"
)

// GetFile asks the tracker where owner's peer listens and fetches remote from it
// into local. It returns the number of bytes written.
func GetFile(tracker *TrackerConn, owner, remote, local string) (int64, error) {
	req := common.NewRequest(common.OpLookup)
	req.User = owner
	resp, err := tracker.Do(req)
	if err != nil {
		return 0, err
	}
	return fetchFromPeer(resp.Address, remote, local)
}

// fetchFromPeer downloads into a temporary file beside local and renames it into
// place once size and digest check out. local is untouched on failure.
func fetchFromPeer(peerAddr, remote, local string) (int64, error) {
	conn, err := net.DialTimeout("tcp", peerAddr, 2*time.Second)
	if err != nil {
		return 0, errors.Wrapf(common.ErrNetwork, "dial peer %s: %v", peerAddr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(transferTimeout))

	req := common.NewRequest(common.OpGetFile)
	req.File = remote
	if err := common.Send(conn, req); err != nil {
		return 0, errors.Wrapf(common.ErrNetwork, "send request: %v", err)
	}

	var hdr common.PeerHeader
	if err := common.Recv(conn, &hdr); err != nil {
		return 0, errors.Wrapf(common.ErrNetwork, "read header: %v", err)
	}
	if err := hdr.Code.Err(); err != nil {
		return 0, errors.Wrapf(err, "peer %s", peerAddr)
	}
	if hdr.Encoding != BodyEncoding {
		return 0, errors.Wrapf(common.ErrNetwork, "peer sent unsupported body encoding %q", hdr.Encoding)
	}

	tmp, err := os.CreateTemp(filepath.Dir(local), "."+filepath.Base(local)+".part-*")
	if err != nil {
		return 0, errors.Wrap(common.ErrLocal, err.Error())
	}
	done := false
	defer func() {
		if !done {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := tmp.Chmod(0644); err != nil {
		return 0, errors.Wrap(common.ErrLocal, err.Error())
	}

	dec, err := zstd.NewReader(conn)
	if err != nil {
		return 0, errors.Wrapf(common.ErrNetwork, "body decoder: %v", err)
	}
	defer dec.Close()

	h := xxhash.New()
	n, err := io.CopyN(io.MultiWriter(tmp, h), dec, hdr.Size)
	if err != nil {
		return n, errors.Wrapf(common.ErrNetwork, "transfer stopped after %d of %d bytes: %v", n, hdr.Size, err)
	}
	if h.Sum64() != hdr.Digest {
		return n, errors.Wrap(common.ErrNetwork, "digest mismatch, file corrupted in transfer")
	}

	if err := tmp.Close(); err != nil {
		return n, errors.Wrap(common.ErrLocal, err.Error())
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		return n, errors.Wrap(common.ErrLocal, err.Error())
	}
	done = true
	return n, nil
}
