package mountapi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tqbf/automount/pkg/pack"
	"github.com/tqbf/automount/pkg/protocol"
)

// Uploader ships built mounts to a mount server. Only blobs the server
// reports missing are sent.
type Uploader struct {
	Client *Client
	// Retries bounds attempts after the first for one mount.
	Retries         int
	InitialInterval time.Duration
	Logger          *slog.Logger
}

func NewUploader(c *Client, retries int) *Uploader {
	return &Uploader{Client: c, Retries: retries}
}

func (u *Uploader) logger() *slog.Logger {
	if u.Logger == nil {
		return slog.Default()
	}
	return u.Logger
}

func (u *Uploader) backoff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if u.InitialInterval > 0 {
		eb.InitialInterval = u.InitialInterval
	}
	eb.MaxElapsedTime = 0
	retries := u.Retries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

// Upload builds b on the server and returns its mount ID.
func (u *Uploader) Upload(
	ctx context.Context,
	deployment string,
	b *pack.Built,
) (string, error) {
	log := u.logger().With("spec", b.ID(), "deployment", deployment)

	var mountID string
	attempt := func() error {
		id, err := u.uploadOnce(ctx, deployment, b, log)
		if err != nil {
			if !retryable(ctx, err) {
				return backoff.Permanent(err)
			}
			return err
		}
		mountID = id
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("upload failed, retrying", "err", err, "wait", wait)
	}
	if err := backoff.RetryNotify(attempt, u.backoff(ctx), notify); err != nil {
		return "", err
	}
	return mountID, nil
}

func (u *Uploader) uploadOnce(
	ctx context.Context,
	deployment string,
	b *pack.Built,
	log *slog.Logger,
) (string, error) {
	sess, err := u.Client.BuildSession(ctx)
	if err != nil {
		return "", err
	}
	defer sess.Close()

	missing, err := sess.Offer(ctx, b.ID(), deployment, b.Manifest)
	if err != nil {
		return "", err
	}
	if len(missing) > 0 {
		n, err := u.Client.PutBlobs(ctx, b.Blobs(), missing)
		if err != nil {
			return "", err
		}
		log.Debug("blobs uploaded", "count", n)
	}

	id, count, err := sess.Finalize(ctx)
	if err != nil {
		return "", err
	}
	log.Info("mount uploaded",
		"mount", id,
		"files", count,
		"new_blobs", len(missing),
	)
	return id, nil
}

// retryable reports whether err might go away on another attempt:
// transport failures and server-side trouble, not rejections.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var remote *protocol.RemoteError
	if errors.As(err, &remote) {
		return false
	}
	var api *APIError
	if errors.As(err, &api) {
		return api.Temporary()
	}
	return true
}
