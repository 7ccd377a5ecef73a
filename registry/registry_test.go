package registry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"

	"peershare/common"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := OpenBadger("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	r, err := New(store)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func mustDo(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func wantErr(t *testing.T, err, want error) {
	t.Helper()
	if errors.Cause(err) != want {
		t.Fatalf("want %v, got %v", want, err)
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	r := newTestRegistry(t)
	mustDo(t, r.Register("alice"))
	wantErr(t, r.Register("alice"), common.ErrAlreadyRegistered)
}

func TestConnectRequiresRegistration(t *testing.T) {
	r := newTestRegistry(t)
	wantErr(t, r.Connect("bob", "127.0.0.1:4000"), common.ErrNotRegistered)

	mustDo(t, r.Register("bob"))
	mustDo(t, r.Connect("bob", "127.0.0.1:4000"))
	wantErr(t, r.Connect("bob", "127.0.0.1:4001"), common.ErrAlreadyConnected)
}

func TestDisconnectRequiresConnection(t *testing.T) {
	r := newTestRegistry(t)
	wantErr(t, r.Disconnect("carol"), common.ErrNotRegistered)
	mustDo(t, r.Register("carol"))
	wantErr(t, r.Disconnect("carol"), common.ErrNotConnected)
}

func TestPublishAfterDisconnectFails(t *testing.T) {
	r := newTestRegistry(t)
	mustDo(t, r.Register("alice"))
	mustDo(t, r.Connect("alice", "127.0.0.1:4000"))
	mustDo(t, r.Disconnect("alice"))

	wantErr(t, r.Publish("alice", "f", "d"), common.ErrNotConnected)
	wantErr(t, r.Publish("", "f", "d"), common.ErrNotConnected)
}

func TestPublishListDelete(t *testing.T) {
	r := newTestRegistry(t)
	mustDo(t, r.Register("alice"))
	mustDo(t, r.Connect("alice", "127.0.0.1:4000"))
	mustDo(t, r.Publish("alice", "f", "d"))

	files, err := r.ListContent("alice")
	mustDo(t, err)
	if len(files) != 1 || files[0].Name != "f" || files[0].Description != "d" {
		t.Fatalf("want exactly {f: d}, got %+v", files)
	}

	wantErr(t, r.Publish("alice", "f", "other"), common.ErrFileAlreadyExists)

	mustDo(t, r.Delete("alice", "f"))
	files, err = r.ListContent("alice")
	mustDo(t, err)
	if len(files) != 0 {
		t.Fatalf("f still listed after delete: %+v", files)
	}
	wantErr(t, r.Delete("alice", "f"), common.ErrFileNotFound)
}

func TestDescriptionKeepsSpaces(t *testing.T) {
	r := newTestRegistry(t)
	mustDo(t, r.Register("alice"))
	mustDo(t, r.Connect("alice", "127.0.0.1:4000"))
	mustDo(t, r.Publish("alice", "song.mp3", "live  at the   park"))

	files, err := r.ListContent("alice")
	mustDo(t, err)
	if files[0].Description != "live  at the   park" {
		t.Errorf("description changed: %q", files[0].Description)
	}
}

func TestUnregister(t *testing.T) {
	r := newTestRegistry(t)
	wantErr(t, r.Unregister("dave"), common.ErrNotRegistered)

	mustDo(t, r.Register("dave"))
	mustDo(t, r.Connect("dave", "127.0.0.1:4000"))
	mustDo(t, r.Publish("dave", "a.txt", "a"))
	wantErr(t, r.Unregister("dave"), common.ErrAlreadyConnected)

	mustDo(t, r.Disconnect("dave"))
	mustDo(t, r.Unregister("dave"))

	_, err := r.ListContent("dave")
	wantErr(t, err, common.ErrNotRegistered)

	// a fresh registration starts empty
	mustDo(t, r.Register("dave"))
	files, err := r.ListContent("dave")
	mustDo(t, err)
	if len(files) != 0 {
		t.Errorf("files survived unregister: %+v", files)
	}
}

func TestListUsersOnlyConnected(t *testing.T) {
	r := newTestRegistry(t)
	for _, n := range []string{"zoe", "amy", "max"} {
		mustDo(t, r.Register(n))
	}
	mustDo(t, r.Connect("zoe", "10.0.0.3:5000"))
	mustDo(t, r.Connect("amy", "10.0.0.1:5000"))

	users := r.ListUsers()
	if len(users) != 2 || users[0].Name != "amy" || users[1].Name != "zoe" {
		t.Fatalf("want [amy zoe], got %+v", users)
	}
	if users[0].Address != "10.0.0.1:5000" {
		t.Errorf("amy address = %q", users[0].Address)
	}

	if s := r.Stats(); s.Registered != 3 || s.Connected != 2 || s.Files != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestLookup(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Lookup("erin")
	wantErr(t, err, common.ErrNotRegistered)

	mustDo(t, r.Register("erin"))
	_, err = r.Lookup("erin")
	wantErr(t, err, common.ErrNotConnected)

	mustDo(t, r.Connect("erin", "127.0.0.1:6000"))
	addr, err := r.Lookup("erin")
	mustDo(t, err)
	if addr != "127.0.0.1:6000" {
		t.Errorf("addr = %q", addr)
	}
}

func TestInvalidNames(t *testing.T) {
	r := newTestRegistry(t)
	for _, n := range []string{"", "a b", "a/b", "tab\there"} {
		wantErr(t, r.Register(n), common.ErrBadRequest)
	}

	mustDo(t, r.Register("frank"))
	wantErr(t, r.Connect("frank", ""), common.ErrBadRequest)
	mustDo(t, r.Connect("frank", "127.0.0.1:1"))
	wantErr(t, r.Publish("frank", "", "d"), common.ErrBadRequest)
}

func TestConcurrentRegisterExactlyOneWins(t *testing.T) {
	r := newTestRegistry(t)

	const clients = 16
	var ok, dup int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			switch err := r.Register("ursula"); errors.Cause(err) {
			case nil:
				atomic.AddInt32(&ok, 1)
			case common.ErrAlreadyRegistered:
				atomic.AddInt32(&dup, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if ok != 1 || dup != clients-1 {
		t.Errorf("ok=%d dup=%d, want 1 and %d", ok, dup, clients-1)
	}
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	r := newTestRegistry(t)
	mustDo(t, r.Register("gina"))
	mustDo(t, r.Connect("gina", "127.0.0.1:7000"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			name := "file" + string(rune('a'+i%26))
			if err := r.Publish("gina", name, "x"); err == nil {
				r.Delete("gina", name)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			if _, err := r.ListContent("gina"); err != nil {
				t.Errorf("ListContent: %v", err)
				return
			}
			r.ListUsers()
		}
	}()
	wg.Wait()
}

// failingStore passes writes through to an in-memory badger until fail is set.
type failingStore struct {
	*BadgerStore
	fail bool
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) PutUser(u User) error {
	if s.fail {
		return errDiskFull
	}
	return s.BadgerStore.PutUser(u)
}

func (s *failingStore) DeleteUser(name string) error {
	if s.fail {
		return errDiskFull
	}
	return s.BadgerStore.DeleteUser(name)
}

func (s *failingStore) PutFile(f File) error {
	if s.fail {
		return errDiskFull
	}
	return s.BadgerStore.PutFile(f)
}

func (s *failingStore) DeleteFile(owner, name string) error {
	if s.fail {
		return errDiskFull
	}
	return s.BadgerStore.DeleteFile(owner, name)
}

func TestStoreFailureLeavesStateUnchanged(t *testing.T) {
	mem, err := OpenBadger("")
	if err != nil {
		t.Fatal(err)
	}
	store := &failingStore{BadgerStore: mem}
	r, err := New(store)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })

	mustDo(t, r.Register("alice"))
	mustDo(t, r.Register("bob"))
	mustDo(t, r.Connect("alice", "127.0.0.1:4000"))
	mustDo(t, r.Publish("alice", "kept.txt", "d"))
	store.fail = true

	for name, err := range map[string]error{
		"register":   r.Register("carol"),
		"unregister": r.Unregister("bob"),
		"connect":    r.Connect("bob", "127.0.0.1:5000"),
		"disconnect": r.Disconnect("alice"),
		"publish":    r.Publish("alice", "new.txt", "d"),
		"delete":     r.Delete("alice", "kept.txt"),
	} {
		if code := common.CodeOf(err); code != common.CodeInternal {
			t.Errorf("%s: want %s, got %s (%v)", name, common.CodeInternal, code, err)
		}
	}

	users := r.ListUsers()
	if len(users) != 1 || users[0].Name != "alice" || users[0].Address != "127.0.0.1:4000" {
		t.Errorf("connected users = %+v", users)
	}
	if all := r.Users(); len(all) != 2 {
		t.Errorf("registered users = %+v", all)
	}
	files, err := r.ListContent("alice")
	mustDo(t, err)
	if len(files) != 1 || files[0].Name != "kept.txt" {
		t.Errorf("files = %+v", files)
	}

	store.fail = false
	mustDo(t, r.Publish("alice", "new.txt", "d"))
}
