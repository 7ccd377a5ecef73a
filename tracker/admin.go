package main

import (
	"encoding/json"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"peershare/common"
	"peershare/registry"
)

type adminUser struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
	Since     string `json:"since,omitempty"`
}

// newAdminRouter serves a read-only JSON view of the registry.
func newAdminRouter(reg *registry.Registry) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	r.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, reg.Stats())
	}).Methods("GET")

	r.HandleFunc("/users", func(w http.ResponseWriter, _ *http.Request) {
		users := reg.Users()
		res := make([]adminUser, 0, len(users))
		for _, u := range users {
			au := adminUser{Name: u.Name, Connected: u.Connected, Address: u.Address}
			if u.Connected {
				au.Since = humanize.Time(u.ConnectedAt)
			}
			res = append(res, au)
		}
		writeJSON(w, http.StatusOK, res)
	}).Methods("GET")

	r.HandleFunc("/users/{name}/files", func(w http.ResponseWriter, req *http.Request) {
		files, err := reg.ListContent(mux.Vars(req)["name"])
		if errors.Cause(err) == common.ErrNotRegistered {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, files)
	}).Methods("GET")

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("admin: encode response: %v", err)
	}
}
