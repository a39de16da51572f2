package mountserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/coder/websocket"

	"github.com/tqbf/automount/pkg/pack"
	"github.com/tqbf/automount/pkg/protocol"
)

// build is the state of one mount between begin and finalize.
type build struct {
	name       string
	deployment string
	manifest   pack.Manifest
	committed  bool
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket accept", "err", err)
		return
	}
	conn := protocol.NewConn(ws)
	defer conn.Close()

	ctx := r.Context()
	err = conn.Send(ctx, protocol.Response{
		Type:    protocol.TypeReady,
		Version: protocol.Version,
	})
	if err != nil {
		return
	}

	var b *build
	for {
		req, err := conn.ReadRequest(ctx)
		if err != nil {
			if protocol.IsClosed(err) || ctx.Err() != nil {
				return
			}
			conn.SendError(ctx, err, true)
			return
		}
		resp, err := s.step(ctx, &b, req)
		if err != nil {
			mountsBuilt.WithLabelValues("error").Inc()
			s.logger.Warn("mount build failed", "err", err)
			conn.SendError(ctx, err, true)
			return
		}
		if resp == nil {
			continue
		}
		if err := conn.Send(ctx, *resp); err != nil {
			return
		}
	}
}

func (s *Server) step(
	ctx context.Context,
	bp **build,
	req *protocol.Request,
) (*protocol.Response, error) {
	b := *bp
	switch req.Cmd {
	case protocol.CmdBegin:
		*bp = &build{
			name:       req.Name,
			deployment: req.Deployment,
			manifest:   pack.Manifest{},
		}
		s.logger.Debug("mount build started",
			"name", req.Name, "deployment", req.Deployment)
		return nil, nil

	case protocol.CmdFile:
		if b == nil || b.committed {
			return nil, errors.New("file outside of an open build")
		}
		if !pack.ValidHash(req.Hash) {
			return nil, fmt.Errorf("file %s: invalid hash %q", req.Path, req.Hash)
		}
		if !path.IsAbs(req.Path) || path.Clean(req.Path) != req.Path {
			return nil, fmt.Errorf("file %s: remote path must be absolute and clean", req.Path)
		}
		if _, dup := b.manifest[req.Path]; dup {
			return nil, fmt.Errorf("file %s: duplicate path", req.Path)
		}
		b.manifest[req.Path] = pack.ManifestEntry{
			Path: req.Path,
			Hash: req.Hash,
			Mode: req.Mode,
			Size: req.Size,
		}
		return nil, nil

	case protocol.CmdCommit:
		if b == nil || b.committed {
			return nil, errors.New("commit outside of an open build")
		}
		missing, err := s.missing(ctx, b.manifest)
		if err != nil {
			return nil, err
		}
		b.committed = true
		blobsSkipped.Add(float64(len(b.manifest.Hashes()) - len(missing)))
		return &protocol.Response{
			Type:   protocol.TypeMissing,
			Hashes: missing,
		}, nil

	case protocol.CmdFinalize:
		if b == nil || !b.committed {
			return nil, errors.New("finalize before commit")
		}
		missing, err := s.missing(ctx, b.manifest)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("%d blobs still missing (first %s)", len(missing), missing[0])
		}
		mt := s.addMount(b.name, b.deployment, b.manifest)
		*bp = nil
		mountsBuilt.WithLabelValues("success").Inc()
		s.logger.Info("mount built",
			"id", mt.ID, "name", mt.Name, "files", len(mt.Manifest))
		return &protocol.Response{
			Type:    protocol.TypeMountDone,
			MountID: mt.ID,
			Count:   len(mt.Manifest),
		}, nil
	}
	return nil, fmt.Errorf("unknown cmd %q", req.Cmd)
}

func (s *Server) missing(ctx context.Context, m pack.Manifest) ([]string, error) {
	var storeErr error
	missing := pack.MissingBlobs(m, func(hash string) bool {
		if storeErr != nil {
			return false
		}
		ok, err := s.store.Has(ctx, hash)
		if err != nil {
			storeErr = err
		}
		return ok
	})
	if storeErr != nil {
		return nil, fmt.Errorf("check blobs: %w", storeErr)
	}
	return missing, nil
}
