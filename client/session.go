package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// SessionData is the login state remembered between one-shot invocations.
type SessionData struct {
	Username string `json:"username"`
}

// LoadSession reads the session file. A missing file is an empty session.
func LoadSession(path string) (SessionData, error) {
	var session SessionData
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return session, nil
		}
		return session, errors.Wrap(err, "reading session")
	}
	if err := json.Unmarshal(data, &session); err != nil {
		return session, errors.Wrapf(err, "parsing session file %s", path)
	}
	return session, nil
}

func SaveSession(path string, session SessionData) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "creating session directory")
	}
	return errors.Wrap(os.WriteFile(path, data, 0600), "writing session")
}

// ClearSession deletes the session file.
func ClearSession(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
