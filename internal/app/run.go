package app

import (
	"context"
	"fmt"

	"github.com/1ureka/cast/internal/config"
	"github.com/1ureka/cast/internal/coordinator"
	"github.com/1ureka/cast/internal/media"
	"github.com/1ureka/cast/internal/relay"
	"github.com/1ureka/cast/internal/util"
)

// RunSender streams cfg.MediaFile to the peer in cfg.Room. It returns nil
// when ctx is cancelled or the peer hangs up, and the failure otherwise.
func RunSender(ctx context.Context, cfg *config.Config) error {
	src, err := media.NewFileSource(cfg.MediaFile)
	if err != nil {
		return err
	}

	sess, err := NewSessionFromConfig(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ended := watch(sess)
	sess.OnConnected(func(coordinator.MediaHandle) {
		util.LogSuccess("streaming %s (%s) to peer", cfg.MediaFile, src.MimeType())
	})

	srcErr := make(chan error, 1)
	go func() { srcErr <- src.Run(ctx) }()

	util.LogInfo("joining room %q as sender", cfg.Room)
	if err := sess.StartAsCallerWithMedia(ctx, src); err != nil {
		return err
	}
	defer sess.Teardown()

	select {
	case <-ctx.Done():
		return nil
	case err := <-ended:
		return err
	case err := <-srcErr:
		if err != nil {
			return fmt.Errorf("media source: %w", err)
		}
		return nil
	}
}

// RunReceiver waits for the peer in cfg.Room and records its video to
// cfg.RecordFile, or discards it when no file is configured.
func RunReceiver(ctx context.Context, cfg *config.Config) error {
	sess, err := NewSessionFromConfig(cfg)
	if err != nil {
		return err
	}

	rec := media.NewRecorder(cfg.RecordFile)
	ended := watch(sess)
	sess.OnConnected(func(coordinator.MediaHandle) {
		util.LogSuccess("connected to peer, receiving media")
	})
	sess.OnRemoteMedia(func(remote coordinator.MediaHandle) {
		track, ok := remote.(media.RTPReader)
		if !ok {
			util.LogWarning("ignoring remote media of type %T", remote)
			return
		}
		go func() {
			if err := rec.Record(track); err != nil {
				util.LogError("recording stopped: %v", err)
			}
		}()
	})

	util.LogInfo("joining room %q as receiver", cfg.Room)
	if err := sess.StartAsCalleeWaiting(ctx); err != nil {
		return err
	}
	defer func() {
		sess.Teardown()
		util.LogInfo("received %d packets (%d bytes)", rec.Packets.Load(), rec.Bytes.Load())
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-ended:
		return err
	}
}

// RunRelay serves the rendezvous relay on cfg.Listen until ctx is cancelled.
func RunRelay(ctx context.Context, cfg *config.Config) error {
	srv := relay.NewServer(relay.ServerConfig{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
	})
	return srv.ListenAndServe(ctx, cfg.Listen)
}

// watch reports the first end of sess: nil for a close, the error for a
// failure.
func watch(sess *Session) <-chan error {
	ended := make(chan error, 1)
	sess.OnFailed(func(err error) {
		select {
		case ended <- err:
		default:
		}
	})
	sess.OnClosed(func() {
		select {
		case ended <- nil:
		default:
		}
	})
	return ended
}
