package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/keiyoru/mphost"
	"github.com/keiyoru/mphost/bancho"
)

func main() {
	configPath := flag.String("config", "config.json", "Rooms and credentials")
	debug := flag.Bool("debug", false, "")
	closeRooms := flag.Bool("close-rooms", false, "Close all rooms on shutdown")
	filterFile := flag.String("filter", "", "Filter a beatmapset catalog to stdout and exit")
	minStar := flag.Float64("min", 0, "Catalog filter lower bound")
	maxStar := flag.Float64("max", 10, "Catalog filter upper bound")
	flag.Parse()

	// A .env next to the binary seeds the MPHOST_* variables.
	godotenv.Load()

	srvCfg, err := mphost.LoadServerConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config:", err)
		os.Exit(1)
	}

	setupLogger(srvCfg, *debug)

	if *filterFile != "" {
		if err := filterCatalog(*filterFile, *minStar, *maxStar); err != nil {
			log.Error().Err(err).Msg("Fail to filter catalog")
			os.Exit(1)
		}
		return
	}

	cfg, err := mphost.LoadConfig(*configPath)
	if err != nil {
		log.Error().Err(err).Str("path", *configPath).Msg("Fail to load config")
		os.Exit(1)
	}

	client, err := bancho.NewClient(cfg.Username, cfg.Password,
		bancho.WithClientAddr(srvCfg.IRCAddr),
	)
	if err != nil {
		log.Error().Err(err).Msg("Fail to build client")
		os.Exit(1)
	}
	defer client.Close()

	promReg := prometheus.NewRegistry()
	metrics := mphost.NewMetrics(promReg)

	options := []mphost.BotOption{
		mphost.WithBotMetrics(metrics),
		mphost.WithBotCatalogDir(srvCfg.BeatmapsetDir),
		mphost.WithBotFetcher(mphost.NewCachedFetcher(mphost.NewHTTPFetcher(), srvCfg.FetchCacheTTL)),
	}
	if *closeRooms {
		options = append(options, mphost.WithBotCloseRooms())
	}

	bot, err := mphost.NewBot(cfg, client, options...)
	if err != nil {
		log.Error().Err(err).Msg("Fail to build bot")
		os.Exit(1)
	}
	status := mphost.NewStatusServer(bot, promReg)

	log.Info().
		Str("addr", srvCfg.IRCAddr).
		Int("rooms", len(cfg.Rooms)).
		Msg("Starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Run(ctx)
	})
	g.Go(func() error {
		if err := status.Start(srvCfg.StatusAddr); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return status.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Fail to run")
		os.Exit(1)
	}
	log.Info().Msg("Stopped")
}

// setupLogger sends structured logs to the console and, when a log
// directory is configured, to a per-start file inside it.
func setupLogger(cfg *mphost.ServerConfig, debug bool) {
	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "2006-01-02 15:04:05.000",
	}}

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			fmt.Fprintln(os.Stderr, "log dir:", err)
		} else {
			name := filepath.Join(cfg.LogDir, time.Now().Format("2006-01-02_15-04-05")+".log")
			f, err := os.Create(name)
			if err != nil {
				fmt.Fprintln(os.Stderr, "log file:", err)
			} else {
				writers = append(writers, f)
			}
		}
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().Timestamp().Logger().Level(level)
}

// filterCatalog narrows a full beatmapset dump to one star window, the
// way per-room catalogs are prepared. Records pass through untouched.
func filterCatalog(path string, min, max float64) error {
	records, err := mphost.LoadCatalog(path)
	if err != nil {
		return err
	}
	kept := mphost.FilterByStars(records, min, max)
	log.Info().Int("in", len(records)).Int("out", len(kept)).Msg("Catalog filtered")

	out, err := json.MarshalIndent(kept, "", "  ")
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(out, '\n'))
	return err
}
