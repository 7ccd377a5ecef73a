package server

import (
	"fmt"

	"github.com/golang/glog"

	"peershare/common"
	"peershare/registry"
)

// dispatch runs one request against the registry. Failures become response
// codes; a panicking handler is logged and answered with CodeInternal.
func (s *Server) dispatch(req common.Request) (resp common.Response) {
	defer func() {
		if p := recover(); p != nil {
			glog.Errorf("panic handling %s %s: %v", req.ID, req.Op, p)
			resp = common.Response{ID: req.ID, Code: common.CodeInternal, Message: fmt.Sprint(p)}
		}
	}()

	switch req.Op {
	case common.OpRegister:
		return s.result(req, s.reg.Register(req.User))
	case common.OpUnregister:
		return s.result(req, s.reg.Unregister(req.User))
	case common.OpConnect:
		return s.result(req, s.reg.Connect(req.User, req.Address))
	case common.OpDisconnect:
		return s.result(req, s.reg.Disconnect(req.User))
	case common.OpPublish:
		return s.result(req, s.reg.Publish(req.User, req.File, req.Description))
	case common.OpDelete:
		return s.result(req, s.reg.Delete(req.User, req.File))
	case common.OpListUsers:
		return listUsers(req, s.reg.ListUsers())
	case common.OpListContent:
		files, err := s.reg.ListContent(req.User)
		if err != nil {
			return s.result(req, err)
		}
		return listContent(req, files)
	case common.OpLookup:
		addr, err := s.reg.Lookup(req.User)
		if err != nil {
			return s.result(req, err)
		}
		return common.Response{ID: req.ID, Code: common.CodeOK, Address: addr}
	default:
		// GET_FILE goes to a peer, never to the tracker
		return common.Response{ID: req.ID, Code: common.CodeBadRequest, Message: fmt.Sprintf("unsupported op %s", req.Op)}
	}
}

func (s *Server) result(req common.Request, err error) common.Response {
	if err != nil {
		if common.CodeOf(err) == common.CodeInternal {
			glog.Errorf("%s %s user=%q: %v", req.ID, req.Op, req.User, err)
		}
		return common.ErrorResponse(req, err)
	}
	return common.Response{ID: req.ID, Code: common.CodeOK}
}

func listUsers(req common.Request, users []registry.User) common.Response {
	entries := make([]common.UserEntry, 0, len(users))
	for _, u := range users {
		entries = append(entries, common.UserEntry{Name: u.Name, Address: u.Address, ConnectedAt: u.ConnectedAt})
	}
	return common.Response{ID: req.ID, Code: common.CodeOK, Users: entries}
}

func listContent(req common.Request, files []registry.File) common.Response {
	entries := make([]common.FileEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, common.FileEntry{Name: f.Name, Description: f.Description, PublishedAt: f.PublishedAt})
	}
	return common.Response{ID: req.ID, Code: common.CodeOK, Files: entries}
}
