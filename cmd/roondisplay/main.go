package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"roondisplay/internal/dcs"
	"roondisplay/internal/discovery"
	"roondisplay/internal/reconciler"
	"roondisplay/internal/roon"
	"roondisplay/internal/server"
	"roondisplay/internal/store"
)

func main() {
	query := flag.String("query", "", "print status|zones|now-playing as JSON and exit")
	discover := flag.Bool("discover", false, "browse the LAN for media renderers and exit")
	flag.Parse()

	if *discover {
		runDiscover()
		return
	}

	dbPath := envOr("DB_PATH", "./data/roondisplay.db")
	listenAddr := envOr("LISTEN_ADDR", ":7868")
	coreAddr := envOr("CORE_ADDR", "127.0.0.1:9330")
	formatPrefix := envOr("FORMAT_DEVICE_PREFIX", reconciler.DefaultFormatPrefix)
	formatHost := os.Getenv("FORMAT_DEVICE_HOST")
	corsOrigin := os.Getenv("CORS_ORIGIN")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatal(err)
	}

	st, err := store.New(dbPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		log.Fatalf("running migrations: %v", err)
	}

	roonOpts := []roon.Option{roon.WithDisplayName(displayName(st))}
	if blob, err := st.CoreState(); err != nil {
		log.Printf("loading core state: %v", err)
	} else if blob != nil {
		roonOpts = append(roonOpts, roon.WithState(blob))
	}
	client := roon.New(coreAddr, roonOpts...)

	recOpts := []reconciler.Option{
		reconciler.WithStateStore(st),
		reconciler.WithFormatPrefix(formatPrefix),
	}
	if formatHost != "" {
		recOpts = append(recOpts, reconciler.WithFormatProvider(dcs.New(formatHost)))
		log.Printf("format enrichment enabled via %s", formatHost)
	}
	rec := reconciler.New(client, recOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, err := client.Subscribe(ctx)
	if err != nil {
		log.Fatalf("connecting to core: %v", err)
	}
	go func() {
		if err := rec.Run(ctx, events); err != nil && ctx.Err() == nil {
			log.Printf("reconciler stopped: %v", err)
		}
	}()

	if *query != "" {
		if err := runQuery(ctx, rec, *query); err != nil {
			log.Fatal(err)
		}
		return
	}

	var opts []server.Option
	opts = append(opts, server.WithStore(st), server.WithReconnector(client))
	if corsOrigin != "" {
		opts = append(opts, server.WithCORSOrigin(corsOrigin))
	}
	srv := server.NewServer(rec, opts...)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("display server listening on %s, core at %s", listenAddr, coreAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// runQuery waits for the core connection, prints the requested view and
// exits. Used for shell scripting and quick checks.
func runQuery(ctx context.Context, rec *reconciler.Reconciler, what string) error {
	switch what {
	case "status", "zones", "now-playing":
	default:
		return fmt.Errorf("unknown query %q (want status, zones or now-playing)", what)
	}

	deadline := time.After(15 * time.Second)
wait:
	for !rec.Connected() {
		select {
		case <-deadline:
			// Status is still answerable while disconnected.
			if what != "status" {
				return fmt.Errorf("timed out waiting for core connection")
			}
			break wait
		case <-time.After(250 * time.Millisecond):
		}
	}

	var out any
	switch what {
	case "status":
		out = map[string]any{
			"connected": rec.Connected(),
			"core_name": rec.CoreName(),
		}
	case "zones":
		// Give the zone subscription a moment to fill the store.
		time.Sleep(time.Second)
		out = rec.Zones()
	case "now-playing":
		time.Sleep(time.Second)
		out = rec.ZoneViews(ctx)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runDiscover() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devices, err := discovery.Renderers(ctx)
	if err != nil {
		log.Fatalf("discovery failed: %v", err)
	}
	if len(devices) == 0 {
		fmt.Println("no renderers found")
		return
	}
	for _, d := range devices {
		fmt.Printf("%s\t%s:%d\n", d.Name, d.Host, d.Port)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// displayName resolves the name this display registers under. Setting
// DISPLAY_NAME once persists it; later runs reuse the stored name.
func displayName(st *store.Store) string {
	if v := os.Getenv("DISPLAY_NAME"); v != "" {
		if err := st.SetSetting("display_name", v); err != nil {
			log.Printf("saving display name: %v", err)
		}
		return v
	}
	if v, err := st.GetSetting("display_name"); err != nil {
		log.Printf("loading display name: %v", err)
	} else if v != "" {
		return v
	}
	return "Remote Display"
}
