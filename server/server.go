package main

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

const qrSize = 256

// newUpgrader builds the WebSocket upgrader. With no allowed origins
// configured only same-host browsers are accepted; "*" accepts any origin.
func newUpgrader(origins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // Non-browser clients don't send Origin
			}
			if allowed["*"] || allowed[origin] {
				return true
			}
			if len(allowed) > 0 {
				return false
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return u.Host == r.Host
		},
	}
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SetupRoutes configures HTTP routes
func SetupRoutes(hub *Hub, rooms *RoomRegistry, events *EventLog, ids IdentitySource, cfg *Config) *http.ServeMux {
	mux := http.NewServeMux()
	upgrader := newUpgrader(cfg.Origins)

	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)
		if !hub.CanAccept(ip) {
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("addr", ip).Msg("upgrade error")
			return
		}

		hub.TrackConnect(ip)

		client := NewClient(ids.ConnID(), hub, conn, ip)
		hub.register <- client

		go client.WritePump()
		go client.ReadPump()
	})

	mux.HandleFunc("GET /rooms/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		info := RoomInfo{ID: id}
		if room := rooms.GetRoom(id); room != nil {
			info.Exists = true
			info.InGame = room.Phase() == PhaseInGame
			info.Players = room.PlayerCount()
			info.Max = cfg.MaxRoomSize
		}
		writeJSON(w, http.StatusOK, info)
	})

	mux.HandleFunc("GET /rooms/{id}/qr", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if rooms.GetRoom(id) == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		png, err := qrcode.Encode(joinLink(cfg.PublicURL, r, id), qrcode.Medium, qrSize)
		if err != nil {
			log.Error().Err(err).Str("room", id).Msg("qr encode")
			http.Error(w, "qr encode failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(png)
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{
			"rooms":       rooms.RoomCount(),
			"connections": hub.ClientCount(),
		})
	})

	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		counts, err := events.EventCounts(time.Now().Add(-24 * time.Hour))
		if err != nil {
			log.Error().Err(err).Msg("event counts")
			http.Error(w, "stats unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	})

	return mux
}

// joinLink is the URL a phone opens to join roomID
func joinLink(publicURL string, r *http.Request, roomID string) string {
	base := strings.TrimRight(publicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + "/?room=" + url.QueryEscape(roomID)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}
