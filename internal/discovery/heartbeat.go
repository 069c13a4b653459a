package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"blockd.dev/internal/protocol"
	"blockd.dev/internal/sim/game"
)

// Heartbeat keeps a listing fresh until its context ends, then removes it.
type Heartbeat struct {
	Client   *Client
	Interval time.Duration
	Base     Listing
	Roster   func() game.RosterSnapshot
	Logger   *zap.Logger
}

func (h *Heartbeat) listing() Listing {
	l := h.Base
	if l.InstanceID == "" {
		l.InstanceID = uuid.NewString()
		h.Base.InstanceID = l.InstanceID
	}
	l.Protocol = protocol.Version
	if h.Roster != nil {
		r := h.Roster()
		l.Tick = r.Tick
		l.Players = len(r.Players)
		l.Names = make([]string, 0, len(r.Players))
		for _, p := range r.Players {
			l.Names = append(l.Names, p.Name)
		}
	}
	return l
}

// Run blocks until ctx is done. Failures are logged and retried on the next beat.
func (h *Heartbeat) Run(ctx context.Context) error {
	log := h.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("discovery")
	interval := h.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	id := ""
	beat := func() {
		l := h.listing()
		if id != "" {
			err := h.Client.UpdateServer(ctx, id, l)
			if err == nil {
				return
			}
			if !errors.Is(err, ErrNotRegistered) {
				log.Warn("update listing", zap.String("id", id), zap.Error(err))
				return
			}
			log.Info("listing expired, registering again", zap.String("id", id))
			id = ""
		}
		newID, err := h.Client.RegisterServer(ctx, l)
		if err != nil {
			log.Warn("register listing", zap.Error(err))
			return
		}
		id = newID
		log.Info("registered with server browser", zap.String("id", id), zap.String("instance", l.InstanceID))
	}

	beat()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			if id != "" {
				dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := h.Client.UnregisterServer(dctx, id); err != nil && !errors.Is(err, ErrNotRegistered) {
					log.Warn("unregister listing", zap.String("id", id), zap.Error(err))
				}
				cancel()
			}
			return nil
		case <-t.C:
			beat()
		}
	}
}
