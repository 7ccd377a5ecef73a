package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Op tags a request. On the wire it is encoded by name.
type Op uint8

const (
	OpInvalid Op = iota
	OpRegister
	OpUnregister
	OpConnect
	OpDisconnect
	OpPublish
	OpDelete
	OpListUsers
	OpListContent
	OpLookup
	OpGetFile
)

var opNames = [...]string{
	OpInvalid:     "INVALID",
	OpRegister:    "REGISTER",
	OpUnregister:  "UNREGISTER",
	OpConnect:     "CONNECT",
	OpDisconnect:  "DISCONNECT",
	OpPublish:     "PUBLISH",
	OpDelete:      "DELETE",
	OpListUsers:   "LIST_USERS",
	OpListContent: "LIST_CONTENT",
	OpLookup:      "LOOKUP",
	OpGetFile:     "GET_FILE",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// ParseOp maps a command name to its Op. OpInvalid is never returned with ok.
func ParseOp(name string) (Op, bool) {
	for i, n := range opNames {
		if n == name && Op(i) != OpInvalid {
			return Op(i), true
		}
	}
	return OpInvalid, false
}

func (o Op) MarshalText() ([]byte, error) {
	if o == OpInvalid || int(o) >= len(opNames) {
		return nil, fmt.Errorf("cannot encode op %d", uint8(o))
	}
	return []byte(opNames[o]), nil
}

func (o *Op) UnmarshalText(b []byte) error {
	op, ok := ParseOp(string(b))
	if !ok {
		return fmt.Errorf("unknown op %q", b)
	}
	*o = op
	return nil
}

// Request is sent client→tracker, and client→peer for OpGetFile.
type Request struct {
	ID          string `json:"id"`
	Op          Op     `json:"op"`
	User        string `json:"user,omitempty"`
	File        string `json:"file,omitempty"`
	Description string `json:"description,omitempty"`
	Address     string `json:"address,omitempty"`
}

// NewRequest stamps a fresh request id used to correlate client and tracker logs.
func NewRequest(op Op) Request {
	return Request{ID: uuid.NewString(), Op: op}
}

type UserEntry struct {
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	ConnectedAt time.Time `json:"connected_at"`
}

type FileEntry struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PublishedAt time.Time `json:"published_at"`
}

type Response struct {
	ID      string      `json:"id"`
	Code    Code        `json:"code"`
	Message string      `json:"message,omitempty"`
	Users   []UserEntry `json:"users,omitempty"`
	Files   []FileEntry `json:"files,omitempty"`
	Address string      `json:"address,omitempty"`
}

// Err returns nil for CodeOK and the matching sentinel otherwise.
func (r Response) Err() error {
	return r.Code.Err()
}

// ErrorResponse answers req with the code derived from err.
func ErrorResponse(req Request, err error) Response {
	return Response{ID: req.ID, Code: CodeOf(err), Message: err.Error()}
}

// PeerHeader precedes the file body in a peer GET_FILE reply.
type PeerHeader struct {
	Code     Code   `json:"code"`
	Size     int64  `json:"size"`
	Digest   uint64 `json:"digest"`   // xxhash64 of the plain bytes
	Encoding string `json:"encoding"` // body encoding, "zstd"
}
