package main

import (
	"net"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"peershare/common"
)

// TrackerConn sends each request on its own short-lived connection.
type TrackerConn struct {
	addr        string
	dialTimeout time.Duration
	ioTimeout   time.Duration
}

func NewTrackerConn(addr string) *TrackerConn {
	return &TrackerConn{
		addr:        addr,
		dialTimeout: 2 * time.Second,
		ioTimeout:   5 * time.Second,
	}
}

// Do sends req and waits for the answer. Transport failures are wrapped in
// common.ErrNetwork; a non-OK answer is returned as its sentinel error.
func (t *TrackerConn) Do(req common.Request) (common.Response, error) {
	if req.ID == "" {
		req.ID = common.NewRequest(req.Op).ID
	}

	conn, err := net.DialTimeout("tcp", t.addr, t.dialTimeout)
	if err != nil {
		return common.Response{}, errors.Wrapf(common.ErrNetwork, "dial tracker %s: %v", t.addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(t.ioTimeout))

	if err := common.Send(conn, req); err != nil {
		return common.Response{}, errors.Wrapf(common.ErrNetwork, "send %s: %v", req.Op, err)
	}

	var resp common.Response
	if err := common.Recv(conn, &resp); err != nil {
		return common.Response{}, errors.Wrapf(common.ErrNetwork, "receive %s: %v", req.Op, err)
	}
	glog.V(1).Infof("%s %s -> %s", req.ID, req.Op, resp.Code)

	if err := resp.Err(); err != nil {
		// the tracker sends err.Error() of a wrapped sentinel, keep only its context
		if ctx := strings.TrimSuffix(resp.Message, ": "+err.Error()); ctx != resp.Message {
			return resp, errors.Wrap(err, ctx)
		}
		return resp, err
	}
	return resp, nil
}
