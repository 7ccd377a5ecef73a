package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const DefaultSessionFile = ".peershare_session.json"

// SessionData records which user a shell left connected and the peer listener
// serving it, so the next shell can tell a dead session from a live one.
type SessionData struct {
	User       string
	Server     string
	ListenAddr string
}

// LoadSession reads the session file. A missing file is an empty session.
func LoadSession(path string) (SessionData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SessionData{}, nil
		}
		return SessionData{}, err
	}

	if !gjson.ValidBytes(data) {
		return SessionData{}, errors.Errorf("session file %s is not valid JSON", path)
	}
	return SessionData{
		User:       gjson.GetBytes(data, "user").String(),
		Server:     gjson.GetBytes(data, "server").String(),
		ListenAddr: gjson.GetBytes(data, "listen_addr").String(),
	}, nil
}

func SaveSession(path string, s SessionData) error {
	doc, err := sjson.Set("", "user", s.User)
	if err != nil {
		return err
	}
	if doc, err = sjson.Set(doc, "server", s.Server); err != nil {
		return err
	}
	if doc, err = sjson.Set(doc, "listen_addr", s.ListenAddr); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(doc), 0600)
}

func ClearSession(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
