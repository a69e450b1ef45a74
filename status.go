package mphost

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StatusServer exposes liveness, room snapshots and metrics over HTTP.
// It only reads the bot's published snapshot, never its live state.
type StatusServer struct {
	echo *echo.Echo
	bot  *Bot
	log  zerolog.Logger
}

func NewStatusServer(bot *Bot, gatherer prometheus.Gatherer) *StatusServer {
	s := &StatusServer{
		echo: echo.New(),
		bot:  bot,
		log:  log.Logger.With().Str("caller", "StatusServer").Logger(),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.GET("/health", s.health)
	s.echo.GET("/api/rooms", s.rooms)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return s
}

func (s *StatusServer) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *StatusServer) rooms(c echo.Context) error {
	rooms := s.bot.Snapshot()
	if rooms == nil {
		rooms = []RoomStatus{}
	}
	return c.JSON(http.StatusOK, rooms)
}

// Start serves until Shutdown; a graceful stop returns
// http.ErrServerClosed.
func (s *StatusServer) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("status server listening")
	return s.echo.Start(addr)
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
