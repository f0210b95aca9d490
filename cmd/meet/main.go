package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Meet/internal/adapters/httpapi"
	"github.com/dkeye/Meet/internal/adapters/rtc"
	signaling "github.com/dkeye/Meet/internal/adapters/signal"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/metrics"
	"github.com/dkeye/Meet/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "meet",
	Short: "Meeting client: join a room, publish mic and camera, consume peers",
	RunE:  runJoin, // default: same as "meet join"
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Connect to the signaling server and join a room",
	RunE:  runJoin,
}

var (
	flagServer string
	flagRoom   string
	flagName   string
	flagRole   string
	flagMic    string
	flagCamera string
	flagPort   int
)

func init() {
	for _, c := range []*cobra.Command{rootCmd, joinCmd} {
		f := c.Flags()
		f.StringVar(&flagServer, "server", "", "signaling server url (ws://...)")
		f.StringVar(&flagRoom, "room", "", "room to join")
		f.StringVar(&flagName, "name", "", "display name announced to the room")
		f.StringVar(&flagRole, "role", "", "join as host or attendee")
		f.StringVar(&flagMic, "mic", "", "microphone device id")
		f.StringVar(&flagCamera, "camera", "", "camera device id")
		f.IntVar(&flagPort, "http-port", 0, "local status API port")
	}
	rootCmd.AddCommand(joinCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("meet failed")
	}
}

func runJoin(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load(".env")

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if cfg.Token == "" {
		return fmt.Errorf("auth token required, set MEET_TOKEN")
	}
	if cfg.RoomID == "" {
		return fmt.Errorf("room required, use --room or room_id in config")
	}
	if cfg.DisplayName == "" {
		return fmt.Errorf("display name required, use --name or display_name in config")
	}
	role, err := parseRole(cfg.Role)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	stats := metrics.New(reg)

	client := signaling.NewClient(signaling.Options{DialTimeout: cfg.DialTimeout})
	engine := rtc.NewEngine(rtc.Options{ICEServers: cfg.ICEServers})
	coord := session.New(client, engine, session.StaticToken(cfg.Token), session.Options{
		DisplayName:  cfg.DisplayName,
		CameraDevice: cfg.CameraDevice,
		MicDevice:    cfg.MicDevice,
		Metrics:      stats,
	})
	defer coord.Close()

	if err := coord.Connect(ctx, cfg.ServerURL); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := coord.JoinRoom(ctx, domain.RoomID(cfg.RoomID), role); err != nil {
		return fmt.Errorf("join %s: %w", cfg.RoomID, err)
	}

	r := httpapi.SetupRouter(cfg.Mode, coord, reg)
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("meet client started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("api server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server forced to shutdown")
	}
	coord.Close()
	log.Info().Msg("Exited gracefully")
	return nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("server") {
		cfg.ServerURL = flagServer
	}
	if f.Changed("room") {
		cfg.RoomID = flagRoom
	}
	if f.Changed("name") {
		cfg.DisplayName = flagName
	}
	if f.Changed("role") {
		cfg.Role = flagRole
	}
	if f.Changed("mic") {
		cfg.MicDevice = flagMic
	}
	if f.Changed("camera") {
		cfg.CameraDevice = flagCamera
	}
	if f.Changed("http-port") {
		cfg.HTTPPort = flagPort
	}
}

func parseRole(s string) (domain.Role, error) {
	switch role := domain.Role(s); role {
	case domain.RoleHost, domain.RoleAttendee:
		return role, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}
