package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"peershare/common"
)

const stripeCount = 64

// Registry is the directory server state: registered users, their connection
// state and the files each one published.
//
// Writes for one user name are serialized on a stripe lock picked by hashing the
// name; mu only guards the maps themselves, so readers copy a consistent snapshot
// without waiting for slow store writes of other users.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*userRecord

	stripes [stripeCount]sync.Mutex
	store   Store
	now     func() time.Time
}

// New loads the registry from store. Users left connected by a previous run are
// marked disconnected, their peer listeners are gone.
func New(store Store) (*Registry, error) {
	r := &Registry{
		users: make(map[string]*userRecord),
		store: store,
		now:   time.Now,
	}

	snap, err := store.Load()
	if err != nil {
		return nil, err
	}

	for _, u := range snap.Users {
		if u.Connected {
			u.Connected = false
			u.Address = ""
			if err := store.PutUser(u); err != nil {
				return nil, err
			}
		}
		r.users[u.Name] = &userRecord{User: u, files: make(map[string]*File)}
	}

	for i := range snap.Files {
		f := snap.Files[i]
		rec, ok := r.users[f.Owner]
		if !ok {
			glog.Warningf("dropping file %s of unknown user %s", f.Name, f.Owner)
			continue
		}
		rec.files[f.Name] = &f
	}

	glog.Infof("loaded %d users and %d files", len(r.users), len(snap.Files))
	return r, nil
}

func (r *Registry) lockUser(name string) func() {
	m := &r.stripes[xxhash.Sum64String(name)%stripeCount]
	m.Lock()
	return m.Unlock
}

// lookup returns the record for name. Only the holder of the user's stripe may
// read the record after lookup returns.
func (r *Registry) lookup(name string) (*userRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.users[name]
	return rec, ok
}

func (r *Registry) Register(name string) error {
	if err := validUserName(name); err != nil {
		return err
	}
	defer r.lockUser(name)()

	if _, ok := r.lookup(name); ok {
		return common.ErrAlreadyRegistered
	}

	u := User{Name: name, RegisteredAt: r.now()}
	if err := r.store.PutUser(u); err != nil {
		return err
	}

	r.mu.Lock()
	r.users[name] = &userRecord{User: u, files: make(map[string]*File)}
	r.mu.Unlock()

	glog.Infof("user %s registered", name)
	return nil
}

// Unregister removes a disconnected user together with everything they published.
func (r *Registry) Unregister(name string) error {
	if err := validUserName(name); err != nil {
		return err
	}
	defer r.lockUser(name)()

	rec, ok := r.lookup(name)
	if !ok {
		return common.ErrNotRegistered
	}
	if rec.Connected {
		return errors.Wrap(common.ErrAlreadyConnected, "disconnect before unregistering")
	}

	if err := r.store.DeleteUser(name); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.users, name)
	r.mu.Unlock()

	glog.Infof("user %s unregistered", name)
	return nil
}

func (r *Registry) Connect(name, addr string) error {
	if err := validUserName(name); err != nil {
		return err
	}
	if addr == "" {
		return errors.Wrap(common.ErrBadRequest, "missing peer address")
	}
	defer r.lockUser(name)()

	rec, ok := r.lookup(name)
	if !ok {
		return common.ErrNotRegistered
	}
	if rec.Connected {
		return common.ErrAlreadyConnected
	}

	u := rec.User
	u.Connected = true
	u.Address = addr
	u.ConnectedAt = r.now()
	if err := r.store.PutUser(u); err != nil {
		return err
	}

	r.mu.Lock()
	rec.User = u
	r.mu.Unlock()

	glog.Infof("user %s connected from %s", name, addr)
	return nil
}

func (r *Registry) Disconnect(name string) error {
	if err := validUserName(name); err != nil {
		return err
	}
	defer r.lockUser(name)()

	rec, ok := r.lookup(name)
	if !ok {
		return common.ErrNotRegistered
	}
	if !rec.Connected {
		return common.ErrNotConnected
	}

	u := rec.User
	u.Connected = false
	u.Address = ""
	if err := r.store.PutUser(u); err != nil {
		return err
	}

	r.mu.Lock()
	rec.User = u
	r.mu.Unlock()

	glog.Infof("user %s disconnected", name)
	return nil
}

// connectedOwner checks the publish/delete precondition. Caller holds the stripe.
func (r *Registry) connectedOwner(name string) (*userRecord, error) {
	rec, ok := r.lookup(name)
	if !ok {
		return nil, common.ErrNotRegistered
	}
	if !rec.Connected {
		return nil, common.ErrNotConnected
	}
	return rec, nil
}

func (r *Registry) Publish(owner, file, description string) error {
	if err := validUserName(owner); err != nil {
		return errors.Wrap(common.ErrNotConnected, "no user connected")
	}
	if err := validFileName(file); err != nil {
		return err
	}
	if len(description) > maxDescriptionLen {
		return errors.Wrap(common.ErrBadRequest, "description too long")
	}
	defer r.lockUser(owner)()

	rec, err := r.connectedOwner(owner)
	if err != nil {
		return err
	}

	r.mu.RLock()
	_, exists := rec.files[file]
	r.mu.RUnlock()
	if exists {
		return common.ErrFileAlreadyExists
	}

	f := &File{Owner: owner, Name: file, Description: description, PublishedAt: r.now()}
	if err := r.store.PutFile(*f); err != nil {
		return err
	}

	r.mu.Lock()
	rec.files[file] = f
	r.mu.Unlock()

	glog.Infof("user %s published %s", owner, file)
	return nil
}

func (r *Registry) Delete(owner, file string) error {
	if err := validUserName(owner); err != nil {
		return errors.Wrap(common.ErrNotConnected, "no user connected")
	}
	if err := validFileName(file); err != nil {
		return err
	}
	defer r.lockUser(owner)()

	rec, err := r.connectedOwner(owner)
	if err != nil {
		return err
	}

	r.mu.RLock()
	_, exists := rec.files[file]
	r.mu.RUnlock()
	if !exists {
		return common.ErrFileNotFound
	}

	if err := r.store.DeleteFile(owner, file); err != nil {
		return err
	}

	r.mu.Lock()
	delete(rec.files, file)
	r.mu.Unlock()

	glog.Infof("user %s deleted %s", owner, file)
	return nil
}

// ListUsers returns the connected users sorted by name.
func (r *Registry) ListUsers() []User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]User, 0, len(r.users))
	for _, rec := range r.users {
		if rec.Connected {
			res = append(res, rec.User)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// Users returns every registered user, connected or not, sorted by name.
func (r *Registry) Users() []User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]User, 0, len(r.users))
	for _, rec := range r.users {
		res = append(res, rec.User)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// ListContent returns the files published by name, sorted by file name.
func (r *Registry) ListContent(name string) ([]File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.users[name]
	if !ok {
		return nil, common.ErrNotRegistered
	}

	res := make([]File, 0, len(rec.files))
	for _, f := range rec.files {
		res = append(res, *f)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

// Lookup resolves the peer address of a connected user for a direct transfer.
func (r *Registry) Lookup(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.users[name]
	if !ok {
		return "", common.ErrNotRegistered
	}
	if !rec.Connected {
		return "", common.ErrNotConnected
	}
	return rec.Address, nil
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Stats
	for _, rec := range r.users {
		s.Registered++
		if rec.Connected {
			s.Connected++
		}
		s.Files += len(rec.files)
	}
	return s
}

// Close flushes and closes the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}
