package etcd

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const rewatchDelay = 500 * time.Millisecond

type WatchHandler func(ctx context.Context, events []*clientv3.Event) error

// Watcher follows every put and delete under one prefix. It remembers the
// next revision to read so a broken watch resumes without gaps.
type Watcher struct {
	prefix   string
	handler  WatchHandler
	watcher  clientv3.Watcher
	nextRev  atomic.Int64
	restartC chan int64
	logger   zerolog.Logger
}

func NewWatcher(
	prefix string,
	handler WatchHandler,
	watcher clientv3.Watcher,
	startRevision int64,
) *Watcher {
	w := &Watcher{
		prefix:   prefix,
		handler:  handler,
		watcher:  watcher,
		restartC: make(chan int64, 1),
		logger:   log.With().Str("prefix", prefix).Logger(),
	}
	w.nextRev.Store(startRevision)
	return w
}

// Revision is the revision the next watch starts from.
func (w *Watcher) Revision() int64 {
	return w.nextRev.Load()
}

// RestartFrom makes the running watch reopen at revision. Only the latest
// request is kept.
func (w *Watcher) RestartFrom(revision int64) {
	select {
	case <-w.restartC:
	default:
	}
	w.restartC <- revision
}

func (w *Watcher) Watch(ctx context.Context) error {
	ctx = clientv3.WithRequireLeader(ctx)
	watchC := w.open(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rev := <-w.restartC:
			w.logger.Warn().Int64("revision", rev).Msg("reopen watch on request")
			w.nextRev.Store(rev)
			watchC = w.open(ctx)
		case resp, ok := <-watchC:
			if !ok {
				w.logger.Info().Msg("watch channel closed")
				return nil
			}
			if w.handleResponse(ctx, resp) {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(rewatchDelay):
			}
			watchC = w.open(ctx)
		}
	}
}

func (w *Watcher) open(ctx context.Context) clientv3.WatchChan {
	return w.watcher.Watch(
		ctx,
		w.prefix,
		clientv3.WithPrefix(),
		clientv3.WithRev(w.nextRev.Load()),
		clientv3.WithCreatedNotify(),
	)
}

// handleResponse returns false when the watch has to be reopened.
func (w *Watcher) handleResponse(ctx context.Context, resp clientv3.WatchResponse) bool {
	if resp.Canceled {
		w.logger.Error().Err(resp.Err()).Msg("watch canceled, reopen")
		if resp.CompactRevision > w.nextRev.Load() {
			w.nextRev.Store(resp.CompactRevision)
		}
		return false
	}
	if err := resp.Err(); err != nil {
		w.logger.Error().Err(err).Msg("unexpected watch error")
		return true
	}
	if resp.Header.Revision >= w.nextRev.Load() {
		w.nextRev.Store(resp.Header.Revision + 1)
	}
	if resp.IsProgressNotify() || resp.Created || len(resp.Events) == 0 {
		return true
	}
	if err := w.handler(ctx, resp.Events); err != nil {
		w.logger.Error().Err(err).Int("events", len(resp.Events)).Msg("handler failed, skip batch")
	}
	return true
}
