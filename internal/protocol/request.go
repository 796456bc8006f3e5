// Package protocol defines the line protocol spoken between sync nodes and the
// broker: request framing, response codes, the payload codec and the
// ChangeSet model carried in sync payloads.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Request commands.
const (
	CmdLoginMaster  = "lgim"
	CmdLogoutMaster = "lgom"
	CmdLoginSlave   = "lgis"
	CmdLogoutSlave  = "lgos"
	CmdSyncMaster   = "syncm"
	CmdSyncSlave    = "syncs"
)

// Plain response lines.
const (
	ResponseOK           = "OK"
	ResponseMasterExists = "-1"
	ResponseSlaveExists  = "-2"
	ResponseMalformed    = "-5"
)

// Serialized scalar codes answered to syncs (and syncm) instead of a state.
const (
	CodeSlaveUnknown  = -1
	CodeMasterOffline = -2
)

// DiscoveryHello is the datagram a node broadcasts to find the broker.
const DiscoveryHello = "hello"

var ErrMalformedRequest = errors.New("malformed request")

// Request is one parsed request line.
type Request struct {
	Command    string
	Identifier string
	Payload    string // raw serialized payload, empty when absent
	HasPayload bool
}

// ParseRequest splits a request line into command, identifier and optional
// payload. The payload is everything after the second separator.
func ParseRequest(line string) (Request, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, " ", 3)
	switch len(parts) {
	case 2:
		return Request{Command: parts[0], Identifier: parts[1]}, nil
	case 3:
		return Request{
			Command:    parts[0],
			Identifier: parts[1],
			Payload:    strings.TrimSpace(parts[2]),
			HasPayload: true,
		}, nil
	}
	return Request{}, fmt.Errorf("%w: %q", ErrMalformedRequest, line)
}

// FormatRequest builds a request line. A nil payload produces the two-token
// form.
func FormatRequest(command, identifier string, payload any) (string, error) {
	if payload == nil {
		return command + " " + identifier, nil
	}
	s, err := Marshal(payload)
	if err != nil {
		return "", err
	}
	return command + " " + identifier + " " + s, nil
}
