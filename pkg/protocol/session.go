package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/tqbf/automount/pkg/pack"
)

// Session is the client side of one mount build.
type Session struct {
	conn    *Conn
	mu      sync.Mutex
	Version string
}

// Open waits for the server's ready message on ws.
func Open(ctx context.Context, ws *websocket.Conn) (*Session, error) {
	conn := NewConn(ws)
	s := &Session{conn: conn}

	resp, err := s.next(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if resp.Type != TypeReady {
		conn.Close()
		return nil, fmt.Errorf("expected ready, got %s", resp.Type)
	}
	s.Version = resp.Version
	return s, nil
}

// next reads the next response, skipping non-fatal errors.
func (s *Session) next(ctx context.Context) (*Response, error) {
	for {
		resp, err := s.conn.ReadResponse(ctx)
		if err != nil {
			return nil, err
		}
		if resp.Type == TypeError {
			if resp.Fatal {
				return nil, resp.Err()
			}
			slog.Debug("mount server warning", "message", resp.Message)
			continue
		}
		return resp, nil
	}
}

// Offer describes a mount to the server and returns the content
// hashes it does not hold yet.
func (s *Session) Offer(
	ctx context.Context,
	name, deployment string,
	m pack.Manifest,
) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.conn.Send(ctx, Request{
		Cmd:        CmdBegin,
		Name:       name,
		Deployment: deployment,
	})
	if err != nil {
		return nil, err
	}
	for _, p := range m.Paths() {
		e := m[p]
		err := s.conn.Send(ctx, Request{
			Cmd:  CmdFile,
			Path: e.Path,
			Hash: e.Hash,
			Mode: e.Mode,
			Size: e.Size,
		})
		if err != nil {
			return nil, err
		}
	}
	if err := s.conn.Send(ctx, Request{Cmd: CmdCommit}); err != nil {
		return nil, err
	}

	resp, err := s.next(ctx)
	if err != nil {
		return nil, err
	}
	if resp.Type != TypeMissing {
		return nil, fmt.Errorf("unexpected response: %s", resp.Type)
	}
	return resp.Hashes, nil
}

// Finalize asks the server to create the mount offered last. Every
// missing blob must have been uploaded.
func (s *Session) Finalize(ctx context.Context) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.Send(ctx, Request{Cmd: CmdFinalize}); err != nil {
		return "", 0, err
	}
	resp, err := s.next(ctx)
	if err != nil {
		return "", 0, err
	}
	if resp.Type != TypeMountDone {
		return "", 0, fmt.Errorf("unexpected response: %s", resp.Type)
	}
	return resp.MountID, resp.Count, nil
}

func (s *Session) Close() error {
	return s.conn.Close()
}
