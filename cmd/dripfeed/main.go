// Command dripfeed runs the posting bot daemon and a few maintenance
// subcommands against it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ibeckermayer/dripfeed/internal/catalog"
	"github.com/ibeckermayer/dripfeed/internal/config"
	"github.com/ibeckermayer/dripfeed/internal/expander"
	"github.com/ibeckermayer/dripfeed/internal/generator"
	"github.com/ibeckermayer/dripfeed/internal/lifecycle"
	"github.com/ibeckermayer/dripfeed/internal/publisher"
	"github.com/ibeckermayer/dripfeed/internal/scheduler"
	"github.com/ibeckermayer/dripfeed/internal/server"
	"github.com/ibeckermayer/dripfeed/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cmd := "run"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "run":
		runDaemon(args)
	case "once":
		runOnce(args)
	case "seed":
		runSeed(args)
	case "purge":
		runPurge(args)
	case "status":
		queryAdmin(args, "/api/status")
	case "stats":
		queryAdmin(args, "/api/stats")
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: dripfeed <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run      Run the posting daemon (default)")
	fmt.Println("  once     Run exactly one publish cycle and exit")
	fmt.Println("  seed     Fill the post pool from templates without publishing")
	fmt.Println("  purge    Delete used posts older than the retention window")
	fmt.Println("  status   Query a running daemon's status")
	fmt.Println("  stats    Query a running daemon's stats")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -config path   Config file (default: platform config dir)")
}

// loadConfig loads, optionally bootstraps, and validates configuration.
// Validation failures are fatal: the process must not reach scheduling with
// broken config.
func loadConfig(args []string) *config.Config {
	fs := flag.NewFlagSet("dripfeed", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		if os.IsNotExist(err) && *configPath == "" {
			// First run: write the default config so there is something
			// to edit, then keep going with it.
			cfg = config.Default()
			if err := cfg.Save(); err != nil {
				log.Printf("Warning: could not save default config: %v", err)
			} else {
				path, _ := config.ConfigPath()
				log.Printf("Created default config at: %s", path)
			}
		} else {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

func openStore(cfg *config.Config) *store.Store {
	dbPath := cfg.Storage.DBPath
	if dbPath == "" {
		var err error
		dbPath, err = config.DefaultDBPath()
		if err != nil {
			log.Fatalf("Failed to resolve database path: %v", err)
		}
	}

	st, err := store.New(dbPath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	return st
}

// buildManager wires the lifecycle manager and validates credentials.
func buildManager(ctx context.Context, cfg *config.Config, st *store.Store) *lifecycle.Manager {
	pub := publisher.NewXClient(cfg.X.AccessToken)

	var gen generator.Client
	if cfg.Generation.Enabled {
		g, err := generator.NewAnthropicClient(cfg.Generation.APIKey, cfg.Generation.Model)
		if err != nil {
			log.Fatalf("Failed to create generation client: %v", err)
		}
		gen = g
	}

	mgr := lifecycle.New(st, pub, gen, cfg)
	if err := mgr.Init(ctx); err != nil {
		log.Fatalf("Initialization failed: %v", err)
	}
	return mgr
}

func runDaemon(args []string) {
	cfg := loadConfig(args)
	st := openStore(cfg)

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	mgr := buildManager(initCtx, cfg, st)
	cancel()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The signal context is the scheduler's base, so a shutdown signal
	// reaches an in-flight cycle: it finishes its current attempt but
	// never starts another.
	sched := scheduler.New(ctx)
	interval := time.Duration(cfg.Bot.PostIntervalMinutes) * time.Minute
	if err := sched.AddIntervalJob("publish", interval, mgr.RunCycle); err != nil {
		log.Fatalf("Failed to schedule publish job: %v", err)
	}
	if cfg.Bot.RetentionDays > 0 {
		retention := time.Duration(cfg.Bot.RetentionDays) * 24 * time.Hour
		err := sched.AddDailyJob("purge", "04:00", func(ctx context.Context) error {
			n, err := st.PurgeUsed(ctx, cfg.Bot.BotID, retention)
			if err != nil {
				return err
			}
			if n > 0 {
				log.Printf("[purge] deleted %d used posts older than %d days", n, cfg.Bot.RetentionDays)
			}
			return nil
		})
		if err != nil {
			log.Fatalf("Failed to schedule purge job: %v", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Bind, cfg.Server.Port)
	srv := server.New(addr, cfg.Bot.BotID, mgr, st)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("Admin server failed: %v", err)
		}
	}()

	sched.Start()
	log.Printf("dripfeed started: bot %s, publishing every %s", cfg.Bot.BotID, interval)

	<-ctx.Done()

	// Shutdown order: stop new ticks, let the in-flight cycle finish, drain
	// async replenishments, then close the server and store.
	log.Println("Shutting down...")
	<-sched.Stop().Done()
	mgr.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Printf("Admin server shutdown: %v", err)
	}
	if err := st.Close(); err != nil {
		log.Printf("Store close: %v", err)
	}
	log.Println("Shutdown complete")
}

func runOnce(args []string) {
	cfg := loadConfig(args)
	st := openStore(cfg)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	mgr := buildManager(ctx, cfg, st)
	if err := mgr.RunCycle(ctx); err != nil {
		log.Fatalf("Publish cycle failed: %v", err)
	}
	mgr.Wait()
}

func runSeed(args []string) {
	cfg := loadConfig(args)
	st := openStore(cfg)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var batch []store.Post
	for _, topic := range catalog.Topics() {
		expanded, err := expander.Expand(topic, cfg.Bot.PerTopicCount)
		if err != nil {
			log.Fatalf("Failed to expand topic %s: %v", topic, err)
		}
		for _, content := range expanded {
			batch = append(batch, store.Post{Content: content, Category: string(topic)})
		}
	}

	res, err := st.InsertBatch(ctx, cfg.Bot.BotID, batch)
	if err != nil {
		log.Fatalf("Failed to insert seed batch: %v", err)
	}
	fmt.Printf("Seeded %d posts (%d duplicates skipped)\n", res.Inserted, res.SkippedDuplicates)
}

func runPurge(args []string) {
	cfg := loadConfig(args)
	st := openStore(cfg)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	retention := time.Duration(cfg.Bot.RetentionDays) * 24 * time.Hour
	n, err := st.PurgeUsed(ctx, cfg.Bot.BotID, retention)
	if err != nil {
		log.Fatalf("Purge failed: %v", err)
	}
	fmt.Printf("Deleted %d used posts older than %d days\n", n, cfg.Bot.RetentionDays)
}

// queryAdmin hits a running daemon's admin API and prints the response.
// Config is read only for the server address, without credential
// validation: a read-only query needs no secrets.
func queryAdmin(args []string, path string) {
	fs := flag.NewFlagSet("dripfeed", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) || *configPath != "" {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = config.Default()
	}

	url := fmt.Sprintf("http://%s:%d%s", cfg.Server.Bind, cfg.Server.Port, path)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		log.Fatalf("Is the daemon running? Request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed to read response: %v", err)
	}
	fmt.Println(string(body))
}
