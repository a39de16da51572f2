// Package protocol carries the mount build exchange between the
// uploader and the mount server: JSON messages over a websocket.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is reported by the server in its ready message.
const Version = "1"

const (
	CmdBegin    = "begin"
	CmdFile     = "file"
	CmdCommit   = "commit"
	CmdFinalize = "finalize"
)

// Request is sent by the client. A build is begin, one file per
// manifest entry, commit, then finalize once the missing blobs are
// uploaded.
type Request struct {
	Cmd string `json:"cmd"`

	Name       string `json:"name,omitempty"`
	Deployment string `json:"deployment,omitempty"`

	Path string `json:"path,omitempty"`
	Hash string `json:"hash,omitempty"`
	Mode int    `json:"mode,omitempty"`
	Size int64  `json:"size,omitempty"`
}

type ResponseType string

const (
	TypeReady     ResponseType = "ready"
	TypeMissing   ResponseType = "missing"
	TypeMountDone ResponseType = "mount_done"
	TypeError     ResponseType = "error"
)

type Response struct {
	Type    ResponseType `json:"type"`
	Version string       `json:"version,omitempty"`

	Hashes []string `json:"hashes,omitempty"`

	MountID string `json:"mount_id,omitempty"`
	Count   int    `json:"count,omitempty"`

	Message string `json:"message,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// RemoteError is an error message reported by the other side.
type RemoteError struct {
	Message string
	Fatal   bool
}

func (e *RemoteError) Error() string {
	if e.Fatal {
		return "remote: " + e.Message
	}
	return "remote (non-fatal): " + e.Message
}

func (r *Response) Err() error {
	if r.Type != TypeError {
		return nil
	}
	return &RemoteError{Message: r.Message, Fatal: r.Fatal}
}

func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate checks that the fields a command needs are present.
func (r *Request) Validate() error {
	switch r.Cmd {
	case "":
		return fmt.Errorf("missing cmd field")
	case CmdBegin:
		if r.Name == "" {
			return fmt.Errorf("begin: missing name")
		}
	case CmdFile:
		if r.Path == "" || r.Hash == "" {
			return fmt.Errorf("file: missing path or hash")
		}
		if r.Size < 0 {
			return fmt.Errorf("file %s: negative size", r.Path)
		}
	case CmdCommit, CmdFinalize:
	default:
		return fmt.Errorf("unknown cmd %q", r.Cmd)
	}
	return nil
}

func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if resp.Type == "" {
		return nil, fmt.Errorf("missing type field")
	}
	return &resp, nil
}
