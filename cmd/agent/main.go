package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"pixelcove.gg/internal/agent"
	"pixelcove.gg/internal/persistence/indexdb"
	"pixelcove.gg/internal/persistence/journal"
	"pixelcove.gg/internal/persistence/snapshot"
	"pixelcove.gg/internal/protocol"
	"pixelcove.gg/internal/space"
	"pixelcove.gg/internal/transport/ws"
)

const defaultConfigPath = "./configs/agent.yaml"

func main() {
	var (
		configPath = flag.String("config", defaultConfigPath, "agent config path")
		serverURL  = flag.String("url", "", "override server.url")
		wallet     = flag.String("wallet", "", "override server.wallet")
		authToken  = flag.String("auth_token", "", "override server.auth_token (or set PIXELCOVE_AUTH_TOKEN)")
		dataDir    = flag.String("data", "", "override data_dir")
		adminAddr  = flag.String("admin", "", "override admin.addr")
		disableDB  = flag.Bool("disable_db", false, "disable the SQLite directory index")

		snapPath   = flag.String("snapshot", "", "path to directory snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "warm-start from the latest snapshot in the data dir (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[agent] ", log.LstdFlags|log.Lmicroseconds)

	cfgPath := strings.TrimSpace(*configPath)
	if cfgPath == defaultConfigPath {
		if _, err := os.Stat(cfgPath); err != nil {
			cfgPath = ""
		}
	}
	cfg, err := agent.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if v := strings.TrimSpace(*serverURL); v != "" {
		cfg.Server.URL = v
	}
	if v := strings.TrimSpace(*wallet); v != "" {
		cfg.Server.Wallet = v
	}
	if v := strings.TrimSpace(*authToken); v != "" {
		cfg.Server.AuthToken = v
	} else if v := strings.TrimSpace(os.Getenv("PIXELCOVE_AUTH_TOKEN")); v != "" && cfg.Server.AuthToken == "" {
		cfg.Server.AuthToken = v
	}
	if v := strings.TrimSpace(*dataDir); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(*adminAddr); v != "" {
		cfg.Admin.Addr = v
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(cfg.DataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open directory index: %v", err)
		}
	} else {
		logger.Printf("directory index disabled (-disable_db)")
	}

	accessLog := journal.NewAccessLogger(cfg.DataDir)

	client := ws.NewClient(ws.Config{
		URL:        cfg.Server.URL,
		ClientName: cfg.Server.ClientName,
		Wallet:     cfg.Server.Wallet,
		AuthToken:  cfg.Server.AuthToken,
	}, logger)

	// The hooks close over co and persister; both are assigned before Attach,
	// and hooks only fire after it.
	var (
		co        *space.Coordinator
		persister *directoryPersister
	)
	journalEntry := func(e journal.Entry) {
		e.Wallet = co.Identity().Wallet
		if err := accessLog.Write(e); err != nil {
			logger.Printf("journal %s: %v", e.Kind, err)
		}
	}
	hooks := space.Hooks{
		DirectoryChanged: func(spaces []protocol.Space) {
			if idx != nil {
				mine := map[string]bool{}
				for _, sp := range co.MySpaces() {
					mine[sp.ID] = true
				}
				idx.ReplaceDirectory(spaces, mine)
			}
			persister.request()
		},
		VerdictStored: func(spaceID string, rec space.ClearanceRecord) {
			granted := rec.CanEnter
			journalEntry(journal.Entry{
				Kind:     journal.KindVerdict,
				SpaceID:  spaceID,
				CanEnter: &granted,
				IsOwner:  rec.IsOwner,
			})
		},
		Ejected: func(spaceID, reason string) {
			journalEntry(journal.Entry{Kind: journal.KindEjected, SpaceID: spaceID, Reason: reason})
		},
		Visited: func(spaceID string) {
			journalEntry(journal.Entry{Kind: journal.KindVisit, SpaceID: spaceID})
		},
	}

	sink := newAgentSink(logger, accessLog, func() space.Identity { return co.Identity() })
	co = space.New(client, sink, space.Options{
		Logger:            logger,
		OccupancyGrace:    cfg.OccupancyGrace(),
		OccupancyInterval: cfg.OccupancyInterval(),
		Hooks:             hooks,
	})

	snapDir := filepath.Join(cfg.DataDir, "snapshots")
	persister = newDirectoryPersister(snapDir, cfg.Snapshot.Keep, cfg.SnapshotEvery(), co, idx, logger)

	// Warm start: the previous run's directory is served until the first
	// live refresh replaces it.
	warmPath := strings.TrimSpace(*snapPath)
	if warmPath == "" && *loadLatest {
		warmPath, err = snapshot.Latest(snapDir)
		if err != nil {
			logger.Printf("scan snapshots: %v", err)
		}
	}
	if warmPath != "" {
		snap, err := snapshot.ReadSnapshot(warmPath)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		co.SeedDirectory(snap.Spaces, snap.MineIDs)
		logger.Printf("warm-started from snapshot=%s spaces=%d mine=%d",
			filepath.Base(warmPath), len(snap.Spaces), len(snap.MineIDs))
	}

	client.OnIdentityChange(func(id space.Identity) {
		detail := "unauthenticated"
		if id.Authed() {
			detail = "authenticated as " + id.Username
		}
		if err := accessLog.Write(journal.Entry{Kind: journal.KindIdentity, Wallet: id.Wallet, Detail: detail}); err != nil {
			logger.Printf("journal identity: %v", err)
		}
		if !client.Status().Connected {
			return
		}
		if err := co.RefreshAll(); err != nil {
			logger.Printf("refresh spaces: %v", err)
		}
		if id.Authed() {
			if err := co.RefreshMine(); err != nil {
				logger.Printf("refresh rentals: %v", err)
			}
		}
	})

	co.Attach()
	client.Start()

	ctx, cancel := signalContext()
	defer cancel()

	mux := adminMux(co, client, persister, idx != nil, logger)
	srv := &http.Server{
		Addr:              cfg.Admin.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("admin listening on %s, server %s", cfg.Admin.Addr, cfg.Server.URL)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	co.Detach()
	client.Close()
	persister.Close()
	if err := accessLog.Close(); err != nil {
		logger.Printf("close journal: %v", err)
	}
	if idx != nil {
		if err := idx.Close(); err != nil {
			logger.Printf("close directory index: %v", err)
		}
	}
	logger.Printf("shutdown complete")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
