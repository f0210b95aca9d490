// Package domain contains plain meeting entities, no transport or lifecycle logic.
package domain

import "errors"

const MaxDisplayNameLen = 64

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

type PeerID string

// Peer is one room participant as the roster sees it.
type Peer struct {
	ID          PeerID `json:"id"`
	DisplayName string `json:"displayName"`
	Host        bool   `json:"host"`
	Muted       bool   `json:"muted"`
}

func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}
