package registry

import (
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"

	"peershare/common"
)

const (
	maxNameLen        = 255
	maxDescriptionLen = 4096
)

type User struct {
	Name         string    `json:"name"`
	Connected    bool      `json:"connected"`
	Address      string    `json:"address,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	ConnectedAt  time.Time `json:"connected_at,omitempty"`
}

type File struct {
	Owner       string    `json:"owner"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PublishedAt time.Time `json:"published_at"`
}

// userRecord is the in-memory entry. Fields are only written with Registry.mu held
// for writing, and only by the holder of the user's stripe.
type userRecord struct {
	User
	files map[string]*File
}

// Stats is a point-in-time count of the directory.
type Stats struct {
	Registered int `json:"registered"`
	Connected  int `json:"connected"`
	Files      int `json:"files"`
}

func validUserName(name string) error {
	if name == "" || len(name) > maxNameLen || strings.ContainsRune(name, '/') || hasSpace(name) {
		return errors.Wrapf(common.ErrBadRequest, "invalid user name %q", name)
	}
	return nil
}

func validFileName(name string) error {
	if name == "" || len(name) > maxNameLen || hasSpace(name) {
		return errors.Wrapf(common.ErrBadRequest, "invalid file name %q", name)
	}
	return nil
}

func hasSpace(s string) bool {
	return strings.IndexFunc(s, unicode.IsSpace) >= 0
}
