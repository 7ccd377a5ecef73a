package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is the result of a request. The zero value is success.
type Code int

const (
	CodeOK Code = iota
	CodeNotRegistered
	CodeAlreadyRegistered
	CodeNotConnected
	CodeAlreadyConnected
	CodeFileNotFound
	CodeFileAlreadyExists
	CodeBadRequest
	CodeInternal

	// client-local, never put on the wire
	CodeSyntaxError
	CodeNetworkError
	CodeLocalError
)

var (
	ErrNotRegistered     = errors.New("user not registered")
	ErrAlreadyRegistered = errors.New("user already registered")
	ErrNotConnected      = errors.New("user not connected")
	ErrAlreadyConnected  = errors.New("user already connected")
	ErrFileNotFound      = errors.New("file not found")
	ErrFileAlreadyExists = errors.New("file already published")
	ErrBadRequest        = errors.New("bad request")
	ErrInternal          = errors.New("internal server error")
	ErrSyntax            = errors.New("syntax error")
	ErrNetwork           = errors.New("network error")
	ErrLocal             = errors.New("local file error")
)

var codeErrs = map[Code]error{
	CodeNotRegistered:     ErrNotRegistered,
	CodeAlreadyRegistered: ErrAlreadyRegistered,
	CodeNotConnected:      ErrNotConnected,
	CodeAlreadyConnected:  ErrAlreadyConnected,
	CodeFileNotFound:      ErrFileNotFound,
	CodeFileAlreadyExists: ErrFileAlreadyExists,
	CodeBadRequest:        ErrBadRequest,
	CodeInternal:          ErrInternal,
	CodeSyntaxError:       ErrSyntax,
	CodeNetworkError:      ErrNetwork,
	CodeLocalError:        ErrLocal,
}

var codeNames = map[Code]string{
	CodeOK:                "OK",
	CodeNotRegistered:     "NOT_REGISTERED",
	CodeAlreadyRegistered: "ALREADY_REGISTERED",
	CodeNotConnected:      "NOT_CONNECTED",
	CodeAlreadyConnected:  "ALREADY_CONNECTED",
	CodeFileNotFound:      "FILE_NOT_FOUND",
	CodeFileAlreadyExists: "FILE_ALREADY_EXISTS",
	CodeBadRequest:        "BAD_REQUEST",
	CodeInternal:          "INTERNAL",
	CodeSyntaxError:       "SYNTAX_ERROR",
	CodeNetworkError:      "NETWORK_ERROR",
	CodeLocalError:        "LOCAL_ERROR",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Err returns the sentinel for c, nil for CodeOK.
func (c Code) Err() error {
	if c == CodeOK {
		return nil
	}
	if err, ok := codeErrs[c]; ok {
		return err
	}
	return ErrInternal
}

// CodeOf classifies err by its cause. Unknown errors are CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	cause := errors.Cause(err)
	for code, sentinel := range codeErrs {
		if cause == sentinel {
			return code
		}
	}
	return CodeInternal
}
