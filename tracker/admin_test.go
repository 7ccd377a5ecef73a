package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"peershare/registry"
)

func TestAdminAPI(t *testing.T) {
	store, err := registry.OpenBadger("")
	if err != nil {
		t.Fatal(err)
	}
	reg, err := registry.New(store)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	reg.Register("alice")
	reg.Register("bob")
	reg.Connect("alice", "127.0.0.1:4000")
	reg.Publish("alice", "a.txt", "notes")

	srv := httptest.NewServer(newAdminRouter(reg))
	defer srv.Close()

	get := func(path string, want int, v interface{}) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("GET %s: status %d, want %d", path, resp.StatusCode, want)
		}
		if v != nil {
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				t.Fatalf("GET %s: %v", path, err)
			}
		}
	}

	get("/healthz", http.StatusOK, nil)

	var stats registry.Stats
	get("/stats", http.StatusOK, &stats)
	if stats != (registry.Stats{Registered: 2, Connected: 1, Files: 1}) {
		t.Errorf("stats = %+v", stats)
	}

	var users []adminUser
	get("/users", http.StatusOK, &users)
	if len(users) != 2 || !users[0].Connected || users[0].Since == "" || users[1].Connected {
		t.Errorf("users = %+v", users)
	}

	var files []registry.File
	get("/users/alice/files", http.StatusOK, &files)
	if len(files) != 1 || files[0].Name != "a.txt" {
		t.Errorf("files = %+v", files)
	}

	get("/users/nobody/files", http.StatusNotFound, nil)

	resp, err := http.Post(srv.URL+"/users", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /users: status %d", resp.StatusCode)
	}
}
