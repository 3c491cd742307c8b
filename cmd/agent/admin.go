package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"pixelcove.gg/internal/space"
	"pixelcove.gg/internal/transport/ws"
)

func adminMux(co *space.Coordinator, client *ws.Client, persister *directoryPersister, indexEnabled bool, logger *log.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})

	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		st := client.Status()
		m := co.MetricsSnapshot()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP pixelcove_channel_connected Whether the session channel is up.\n")
		fmt.Fprintf(rw, "# TYPE pixelcove_channel_connected gauge\n")
		fmt.Fprintf(rw, "pixelcove_channel_connected %d\n", boolToInt(st.Connected))

		fmt.Fprintf(rw, "# HELP pixelcove_channel_connects_total Completed session handshakes.\n")
		fmt.Fprintf(rw, "# TYPE pixelcove_channel_connects_total counter\n")
		fmt.Fprintf(rw, "pixelcove_channel_connects_total %d\n", st.Connects)

		fmt.Fprintf(rw, "# HELP pixelcove_channel_sent_frames_total Frames written to the channel.\n")
		fmt.Fprintf(rw, "# TYPE pixelcove_channel_sent_frames_total counter\n")
		fmt.Fprintf(rw, "pixelcove_channel_sent_frames_total %d\n", st.SentFrames)

		fmt.Fprintf(rw, "# HELP pixelcove_channel_dropped_frames_total Malformed or unhandled inbound frames.\n")
		fmt.Fprintf(rw, "# TYPE pixelcove_channel_dropped_frames_total counter\n")
		fmt.Fprintf(rw, "pixelcove_channel_dropped_frames_total %d\n", st.DroppedFrames)

		fmt.Fprintf(rw, "# HELP pixelcove_entry_checks_total Entry checks by outcome.\n")
		fmt.Fprintf(rw, "# TYPE pixelcove_entry_checks_total counter\n")
		fmt.Fprintf(rw, "pixelcove_entry_checks_total{outcome=%q} %d\n", "sent", m.ChecksSent)
		fmt.Fprintf(rw, "pixelcove_entry_checks_total{outcome=%q} %d\n", "cache_hit", m.CacheHits)
		fmt.Fprintf(rw, "pixelcove_entry_checks_total{outcome=%q} %d\n", "superseded", m.Supersedes)
		fmt.Fprintf(rw, "pixelcove_entry_checks_total{outcome=%q} %d\n", "granted", m.Granted)
		fmt.Fprintf(rw, "pixelcove_entry_checks_total{outcome=%q} %d\n", "denied", m.Denied)

		fmt.Fprintf(rw, "# HELP pixelcove_eligibility_checks_total Periodic revalidations sent while occupying.\n")
		fmt.Fprintf(rw, "# TYPE pixelcove_eligibility_checks_total counter\n")
		fmt.Fprintf(rw, "pixelcove_eligibility_checks_total %d\n", m.EligibilitySent)

		fmt.Fprintf(rw, "# HELP pixelcove_ejections_total Occupancy sessions ended by revocation, kick, or auth loss.\n")
		fmt.Fprintf(rw, "# TYPE pixelcove_ejections_total counter\n")
		fmt.Fprintf(rw, "pixelcove_ejections_total %d\n", m.Ejections)

		fmt.Fprintf(rw, "# HELP pixelcove_broadcasts_applied_total Space update broadcasts patched into the directory.\n")
		fmt.Fprintf(rw, "# TYPE pixelcove_broadcasts_applied_total counter\n")
		fmt.Fprintf(rw, "pixelcove_broadcasts_applied_total %d\n", m.BroadcastsApplied)

		fmt.Fprintf(rw, "# HELP pixelcove_identity_resets_total Identity changes that emptied the clearance cache.\n")
		fmt.Fprintf(rw, "# TYPE pixelcove_identity_resets_total counter\n")
		fmt.Fprintf(rw, "pixelcove_identity_resets_total %d\n", m.IdentityResets)

		fmt.Fprintf(rw, "# HELP pixelcove_directory_spaces Current directory size.\n")
		fmt.Fprintf(rw, "# TYPE pixelcove_directory_spaces gauge\n")
		fmt.Fprintf(rw, "pixelcove_directory_spaces %d\n", len(co.Spaces()))

		fmt.Fprintf(rw, "# HELP pixelcove_directory_mine Spaces rented by the local identity.\n")
		fmt.Fprintf(rw, "# TYPE pixelcove_directory_mine gauge\n")
		fmt.Fprintf(rw, "pixelcove_directory_mine %d\n", len(co.MySpaces()))

		fmt.Fprintf(rw, "# HELP pixelcove_pending_checks Outstanding entry checks.\n")
		fmt.Fprintf(rw, "# TYPE pixelcove_pending_checks gauge\n")
		fmt.Fprintf(rw, "pixelcove_pending_checks %d\n", co.PendingCount())
	})

	enableAdminHTTP := envBool("PIXELCOVE_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	if !enableAdminHTTP {
		logger.Printf("admin endpoints disabled (PIXELCOVE_ENABLE_ADMIN_HTTP=false)")
		return mux
	}

	mux.HandleFunc("/status", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		st := client.Status()
		occupied, _ := co.Occupied()
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			Connected     bool          `json:"connected"`
			SessionID     string        `json:"sessionId,omitempty"`
			Wallet        string        `json:"wallet,omitempty"`
			Username      string        `json:"username,omitempty"`
			Authenticated bool          `json:"authenticated"`
			LastError     string        `json:"lastError,omitempty"`
			Occupied      string        `json:"occupied,omitempty"`
			Spaces        int           `json:"spaces"`
			Mine          int           `json:"mine"`
			Pending       int           `json:"pending"`
			IndexEnabled  bool          `json:"indexEnabled"`
			Metrics       space.Metrics `json:"metrics"`
		}{
			Connected:     st.Connected,
			SessionID:     st.SessionID,
			Wallet:        st.Wallet,
			Username:      st.Username,
			Authenticated: st.Authenticated,
			LastError:     st.LastError,
			Occupied:      occupied,
			Spaces:        len(co.Spaces()),
			Mine:          len(co.MySpaces()),
			Pending:       co.PendingCount(),
			IndexEnabled:  indexEnabled,
			Metrics:       co.MetricsSnapshot(),
		}
		_ = json.NewEncoder(rw).Encode(resp)
	})

	mux.HandleFunc("/admin/v1/refresh", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		if err := co.RefreshAll(); err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		if co.Identity().Authed() {
			if err := co.RefreshMine(); err != nil {
				logger.Printf("refresh rentals: %v", err)
			}
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true})
	})

	mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel2()
		err := persister.Flush(ctx2)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true})
	})

	return mux
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

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
