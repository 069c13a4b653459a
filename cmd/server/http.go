package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	persistlog "blockd.dev/internal/persistence/log"
	"blockd.dev/internal/sim/game"
	"blockd.dev/internal/sim/stream"
	"blockd.dev/internal/sim/world"
	"blockd.dev/internal/transport/ws"
)

type httpDeps struct {
	game        *game.Server
	transport   *ws.Server
	cache       *stream.Cache
	audit       *persistlog.AuditLogger
	enableAdmin bool
	log         *zap.Logger
}

func newMux(d httpDeps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, d)
	})

	if d.enableAdmin {
		mux.HandleFunc("/admin/v1/roster", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(d.game.Roster())
		}))
		mux.HandleFunc("/admin/v1/entities", loopbackOnly(entitiesHandler(d.game)))
	} else {
		d.log.Info("admin endpoints disabled (BLOCKD_ENABLE_ADMIN_HTTP=false)")
	}

	mux.HandleFunc("/v1/ws", d.transport.Handler())
	return mux
}

type gauge struct {
	name, help string
	value      any
}

func writeMetrics(rw http.ResponseWriter, d httpDeps) {
	m := d.game.Metrics()
	ts := d.transport.Stats()
	gauges := []gauge{
		{"blockd_tick", "Last completed tick.", m.Tick},
		{"blockd_players", "Connected players with a live entity.", m.Players},
		{"blockd_entities", "Live entities.", m.Entities},
		{"blockd_next_entity_id", "Next entity id to be assigned.", m.NextEntityID},
		{"blockd_loaded_chunks", "Chunks resident in memory.", m.LoadedChunks},
		{"blockd_views", "Registered chunk views.", m.Views},
		{"blockd_step_ms", "Duration of the last tick in milliseconds.", fmt.Sprintf("%.3f", float64(m.StepMicros)/1000)},
		{"blockd_position_packets_total", "ENTITY_POSITION packets sent.", m.PositionPackets},
		{"blockd_block_edits_total", "Applied block edits.", m.BlockEdits},
		{"blockd_rejected_edits_total", "Rejected block edits.", m.RejectedEdits},
		{"blockd_audit_errors_total", "Audit entries that could not be queued.", m.AuditErrors},
		{"blockd_store_errors_total", "Map store load or save failures.", m.StoreErrors},
		{"blockd_connections", "Open websocket connections.", ts.Connections},
		{"blockd_queued_events", "Transport events waiting for the next poll.", ts.QueuedEvents},
	}
	for _, g := range gauges {
		fmt.Fprintf(rw, "# HELP %s %s\n# TYPE %s gauge\n%s %v\n", g.name, g.help, g.name, g.name, g.value)
	}
	fmt.Fprintf(rw, "# HELP blockd_dropped_connections_total Connections closed by the server.\n")
	fmt.Fprintf(rw, "# TYPE blockd_dropped_connections_total counter\n")
	fmt.Fprintf(rw, "blockd_dropped_connections_total{reason=%q} %d\n", "slow_client", ts.SlowKicks)
	fmt.Fprintf(rw, "blockd_dropped_connections_total{reason=%q} %d\n", "rate_limit", ts.RateKicks)
	fmt.Fprintf(rw, "blockd_dropped_connections_total{reason=%q} %d\n", "roster_full", ts.RosterRejects)
	if d.cache != nil {
		fmt.Fprintf(rw, "# HELP blockd_chunk_cache_hits_total Encoded chunk cache hits.\n")
		fmt.Fprintf(rw, "# TYPE blockd_chunk_cache_hits_total counter\n")
		fmt.Fprintf(rw, "blockd_chunk_cache_hits_total %d\n", d.cache.Hits())
	}
	if d.audit != nil {
		fmt.Fprintf(rw, "# HELP blockd_audit_dropped_total Audit entries dropped on a full queue.\n")
		fmt.Fprintf(rw, "# TYPE blockd_audit_dropped_total counter\n")
		fmt.Fprintf(rw, "blockd_audit_dropped_total %d\n", d.audit.Dropped())
	}
}

type spawnRequest struct {
	Pos [3]float64 `json:"pos"`
	Vel [3]float64 `json:"vel"`
}

type spawnResponse struct {
	OK       bool   `json:"ok"`
	EntityID uint32 `json:"entity_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// entitiesHandler: POST spawns a world entity, DELETE ?id=N despawns one.
func entitiesHandler(g *game.Server) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		rw.Header().Set("Content-Type", "application/json")

		switch r.Method {
		case http.MethodPost:
			var req spawnRequest
			if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 4096)).Decode(&req); err != nil {
				rw.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(rw).Encode(spawnResponse{Error: err.Error()})
				return
			}
			id, err := g.RequestSpawn(ctx, mgl64.Vec3(req.Pos), mgl64.Vec3(req.Vel))
			if err != nil {
				rw.WriteHeader(statusFor(err))
				_ = json.NewEncoder(rw).Encode(spawnResponse{Error: err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(spawnResponse{OK: true, EntityID: uint32(id)})
		case http.MethodDelete:
			n, err := strconv.ParseUint(r.URL.Query().Get("id"), 10, 32)
			if err != nil {
				rw.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(rw).Encode(spawnResponse{Error: "bad id"})
				return
			}
			if err := g.RequestDespawn(ctx, world.EntityID(n)); err != nil {
				rw.WriteHeader(statusFor(err))
				_ = json.NewEncoder(rw).Encode(spawnResponse{Error: err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(spawnResponse{OK: true, EntityID: uint32(n)})
		default:
			rw.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrAdminBusy), errors.Is(err, game.ErrStopped), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
