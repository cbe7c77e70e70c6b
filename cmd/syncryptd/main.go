// Command syncryptd is the minimal process wiring for a Syncrypt vault:
// open the vault at a folder, construct the configured remote Backend and
// RevisionTransport, and run one push/pull/clone/wipe operation against
// them. Flag parsing and exit-code conventions are intentionally thin —
// the CLI surface itself is an external collaborator, not part of the
// core being built here — mirroring cmd/vaults3/main.go's load-config,
// set-up-logging, construct-and-run shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/dsatori/syncrypt/internal/backend"
	"github.com/dsatori/syncrypt/internal/events"
	"github.com/dsatori/syncrypt/internal/revision"
	"github.com/dsatori/syncrypt/internal/syncengine"
	"github.com/dsatori/syncrypt/internal/vault"
	"github.com/dsatori/syncrypt/internal/vaultconfig"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	folder := flag.String("vault", ".", "path to the vault folder")
	op := flag.String("op", "push", "operation to run: push, pull, clone, wipe")
	serverLogPath := flag.String("server-log", "", "path to a local revision log standing in for the server (defaults to the vault's config path plus \".server-log\")")
	flag.Parse()

	if *showVersion {
		fmt.Printf("syncryptd %s\n", version)
		os.Exit(0)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler))

	if err := run(*folder, *op, *serverLogPath); err != nil {
		slog.Error("syncryptd: operation failed", "op", *op, "error", err)
		os.Exit(1)
	}
}

func run(folder, op, serverLogPath string) error {
	ctx := context.Background()

	v, err := vault.Open(folder)
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	defer v.Close()

	store, err := buildStore(ctx, v)
	if err != nil {
		return fmt.Errorf("building remote store: %w", err)
	}
	defer store.Close()

	if serverLogPath == "" {
		serverLogPath = vaultconfig.Path(folder) + ".server-log"
	}
	serverLog, err := revision.OpenLog(serverLogPath)
	if err != nil {
		return fmt.Errorf("opening revision transport log: %w", err)
	}
	defer serverLog.Close()
	transport := syncengine.NewLocalTransport(serverLog)

	dispatcher := events.NewDispatcher()
	defer dispatcher.Close()
	wireSinks(dispatcher, v.Config())

	engine, err := syncengine.NewEngine(v, store, transport, dispatcher)
	if err != nil {
		return fmt.Errorf("building sync engine: %w", err)
	}

	switch op {
	case "push":
		return engine.Push(ctx)
	case "pull":
		return engine.Pull(ctx)
	case "clone":
		return engine.Clone(ctx)
	case "wipe":
		return engine.Wipe(ctx)
	default:
		return fmt.Errorf("unknown op %q", op)
	}
}

// buildStore selects the object-storage Backend named by cfg.Remote.Type
// (spec.md §6), wiring an optional Redis-backed StatCache when configured.
// The binary backend's stat/upload/download semaphores are v's own
// (spec.md §5's per-vault semaphore model), not a separate set, so that
// Vault.StatSemaphore/UploadSemaphore/DownloadSemaphore actually bound the
// concurrency of the backend a Vault's own engine drives.
func buildStore(ctx context.Context, v *vault.Vault) (backend.Backend, error) {
	cfg := v.Config()
	var store backend.Backend

	switch cfg.Remote.Type {
	case vaultconfig.BackendLocal:
		dataDir := cfg.Remote.DataDir
		if dataDir == "" {
			dataDir = v.CryptPath()
		}
		store = backend.NewLocalBackend(dataDir)
	default:
		bb := backend.NewBinaryBackend(cfg.Remote.Concurrency, cfg.Remote.Host, cfg.Remote.Port,
			cfg.Remote.Username, cfg.Remote.Password, cfg.Remote.Auth,
			v.StatSemaphore(), v.UploadSemaphore(), v.DownloadSemaphore())

		if cfg.Remote.StatCacheURL != "" {
			cache, err := backend.NewStatCache(cfg.Remote.StatCacheURL, cfg.Vault.VaultID)
			if err != nil {
				return nil, err
			}
			bb = bb.WithStatCache(cache)
		}
		store = bb
	}

	if err := store.Open(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// wireSinks attaches the event sinks named in cfg.Events, if any (both are
// optional; a vault with neither configured publishes events to nobody).
func wireSinks(d *events.Dispatcher, cfg *vaultconfig.Config) {
	if cfg.Events.NATSURL != "" {
		sink, err := events.NewNATSSink(cfg.Events.NATSURL, cfg.Events.NATSSubject)
		if err != nil {
			slog.Error("syncryptd: failed to connect NATS event sink", "url", cfg.Events.NATSURL, "error", err)
		} else {
			d.AddSink(sink)
		}
	}
	if cfg.Events.KafkaBrokers != "" {
		d.AddSink(events.NewKafkaSink([]string{cfg.Events.KafkaBrokers}, cfg.Events.KafkaTopic))
	}
}
