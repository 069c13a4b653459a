package game

import (
	"context"
	"errors"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"blockd.dev/internal/sim/world"
)

var (
	ErrStopped   = errors.New("game server stopped")
	ErrNotFound  = errors.New("entity not found")
	ErrAdminBusy = errors.New("admin queue full")
)

type adminKind int

const (
	adminSpawn adminKind = iota + 1
	adminDespawn
)

type adminReq struct {
	kind adminKind
	pos  mgl64.Vec3
	vel  mgl64.Vec3
	id   world.EntityID
	resp chan adminResp
}

type adminResp struct {
	id  world.EntityID
	err error
}

// Run ticks at the configured rate until ctx is done or Stop is called. Admin
// requests are applied at the start of the next tick.
func (s *Server) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingAdmin []adminReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.admin:
			pendingAdmin = append(pendingAdmin, req)
		case <-ticker.C:
			s.handleAdmin(pendingAdmin)
			pendingAdmin = pendingAdmin[:0]
			s.Advance(world.FrameAt(s.nextTick, s.cfg.TickRateHz))
			s.nextTick++
		}
	}
}

// Stop ends Run after the current tick.
func (s *Server) Stop() { s.stopOnce.Do(func() { close(s.stop) }) }

func (s *Server) handleAdmin(reqs []adminReq) {
	for _, req := range reqs {
		var resp adminResp
		switch req.kind {
		case adminSpawn:
			resp.id = s.SpawnEntity(req.pos, req.vel)
		case adminDespawn:
			resp.id = req.id
			if !s.DespawnEntity(req.id) {
				resp.err = ErrNotFound
			}
		}
		req.resp <- resp
	}
}

// RequestSpawn asks the tick goroutine to spawn a world entity. Safe from any goroutine.
func (s *Server) RequestSpawn(ctx context.Context, pos, vel mgl64.Vec3) (world.EntityID, error) {
	return s.request(ctx, adminReq{kind: adminSpawn, pos: pos, vel: vel})
}

// RequestDespawn asks the tick goroutine to remove a world entity. Safe from any goroutine.
func (s *Server) RequestDespawn(ctx context.Context, id world.EntityID) error {
	_, err := s.request(ctx, adminReq{kind: adminDespawn, id: id})
	return err
}

func (s *Server) request(ctx context.Context, req adminReq) (world.EntityID, error) {
	req.resp = make(chan adminResp, 1)
	select {
	case s.admin <- req:
	case <-s.stop:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
		return 0, ErrAdminBusy
	}
	select {
	case resp := <-req.resp:
		return resp.id, resp.err
	case <-s.stop:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
