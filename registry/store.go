package registry

import (
	"encoding/json"

	"github.com/dgraph-io/badger/v3"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

const (
	userPrefix = "u/"
	filePrefix = "f/"
)

// Store persists registrations and published files. Connection state is written
// through as well but is reset when the registry starts.
type Store interface {
	Load() (*Snapshot, error)
	PutUser(u User) error
	// DeleteUser removes the user and every file they published.
	DeleteUser(name string) error
	PutFile(f File) error
	DeleteFile(owner, name string) error
	Close() error
}

type Snapshot struct {
	Users []User
	Files []File
}

// BadgerStore keeps one key per user (u/<name>) and per file (f/<owner>/<file>).
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens the store in dir. An empty dir keeps everything in memory.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open badger at %q", dir)
	}
	return &BadgerStore{db: db}, nil
}

func userKey(name string) []byte {
	return []byte(userPrefix + name)
}

func fileKey(owner, name string) []byte {
	return []byte(filePrefix + owner + "/" + name)
}

func (s *BadgerStore) Load() (*Snapshot, error) {
	snap := &Snapshot{}

	err := s.db.View(func(txn *badger.Txn) error {
		if err := scan(txn, userPrefix, func(v []byte) error {
			var u User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			snap.Users = append(snap.Users, u)
			return nil
		}); err != nil {
			return err
		}

		return scan(txn, filePrefix, func(v []byte) error {
			var f File
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			snap.Files = append(snap.Files, f)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "load registry")
	}
	return snap, nil
}

func scan(txn *badger.Txn, prefix string, fn func(v []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return errors.Wrapf(err, "key %s", it.Item().Key())
		}
	}
	return nil
}

func (s *BadgerStore) PutUser(u User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(userKey(u.Name), data)
	}), "put user %s", u.Name)
}

func (s *BadgerStore) DeleteUser(name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		prefix := []byte(filePrefix + name + "/")

		// collect first, deleting while iterating is not allowed
		var keys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return txn.Delete(userKey(name))
	})
	return errors.Wrapf(err, "delete user %s", name)
}

func (s *BadgerStore) PutFile(f File) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fileKey(f.Owner, f.Name), data)
	}), "put file %s/%s", f.Owner, f.Name)
}

func (s *BadgerStore) DeleteFile(owner, name string) error {
	return errors.Wrapf(s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(fileKey(owner, name))
	}), "delete file %s/%s", owner, name)
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's internal logging to glog.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{})   { glog.Errorf("badger: "+f, v...) }
func (badgerLogger) Warningf(f string, v ...interface{}) { glog.Warningf("badger: "+f, v...) }
func (badgerLogger) Infof(f string, v ...interface{})    { glog.V(1).Infof("badger: "+f, v...) }
func (badgerLogger) Debugf(f string, v ...interface{})   { glog.V(2).Infof("badger: "+f, v...) }
