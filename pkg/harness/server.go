package harness

import (
	"context"
	"net/http/httptest"
	"time"

	"github.com/tqbf/automount/pkg/logging"
	"github.com/tqbf/automount/pkg/mountapi"
	"github.com/tqbf/automount/pkg/mountserver"
	"github.com/tqbf/automount/pkg/pack"
)

// Server is an in-process mount server with a memory store and a
// client pointed at it.
type Server struct {
	*mountserver.Server
	HS       *httptest.Server
	Client   *mountapi.Client
	Uploader *mountapi.Uploader
}

func StartServer(token string) *Server {
	ms := mountserver.New(mountserver.NewMemoryStore(), mountserver.Options{
		Token:  token,
		Logger: logging.Sub("mountd"),
	})
	hs := httptest.NewServer(ms.Handler())
	client := mountapi.New(hs.URL, token)
	up := mountapi.NewUploader(client, 2)
	up.InitialInterval = 10 * time.Millisecond
	up.Logger = logging.Sub("upload")
	return &Server{Server: ms, HS: hs, Client: client, Uploader: up}
}

func (s *Server) URL() string { return s.HS.URL }

func (s *Server) Close() { s.HS.Close() }

// RoundTrip ships b and pulls the resulting mount back into dir.
func (s *Server) RoundTrip(ctx context.Context, b *pack.Built, dir string) (string, error) {
	id, err := s.Uploader.Upload(ctx, "roundtrip", b)
	if err != nil {
		return "", err
	}
	if _, err := s.Client.PullMount(ctx, id, dir); err != nil {
		return "", err
	}
	return id, nil
}
