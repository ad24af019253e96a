// Command wsdemo runs a minimal echo server on top of package ws: every
// text or binary message received from a client is sent back unchanged,
// and connect/disconnect events are logged. It exists to exercise the
// Server type end to end; it is not part of the ws package's public API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli/v3"

	"github.com/rs/zerolog"

	"github.com/tzrikka/xdg"

	"github.com/coregx/wscore/ws"
)

const (
	configDirName  = "wsdemo"
	configFileName = "config.toml"
)

func main() {
	cmd := &cli.Command{
		Name:  "wsdemo",
		Usage: "echo server demonstrating package ws",
		Flags: flags(configFile()),
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	log := newLogger(cmd.Bool("pretty-log"))

	cfg := ws.DefaultConfig()
	if n := cmd.Int("max-message-bytes"); n > 0 {
		cfg.MaxMessageSize = int(n)
	}
	if n := cmd.Int("handshake-workers"); n > 0 {
		cfg.HandshakeWorkers = int(n)
	}

	s := ws.NewServer(cfg)
	s.Log = log
	s.OnConnect = func(c *ws.Conn) {
		log.Info().Str("conn_id", c.ID()).Str("remote", c.RemoteAddr().String()).Msg("client connected")
	}
	s.OnMessage = func(c *ws.Conn, msg ws.Message) {
		log.Debug().Str("conn_id", c.ID()).Str("type", msg.Type.String()).Int("bytes", len(msg.Payload)).Msg("echoing message")
		s.SendMessage(c, msg)
	}
	s.OnDisconnect = func(c *ws.Conn, cause error) {
		log.Info().Str("conn_id", c.ID()).Err(cause).Msg("client disconnected")
	}

	addr := cmd.String("listen-addr")
	if err := s.Start(addr); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	log.Info().Str("addr", addr).Msg("wsdemo listening")

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return stopWithTimeout(shutdownCtx, s)
}

func stopWithTimeout(ctx context.Context, s *ws.Server) error {
	done := make(chan error, 1)
	go func() { done <- s.Stop() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newLogger builds the zerolog.Logger injected into the Server. Package ws
// never constructs its own logger; this is the application's concern.
func newLogger(pretty bool) zerolog.Logger {
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// configFile returns the path to wsdemo's TOML configuration file,
// creating an empty one on first run.
func configFile() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, configDirName, configFileName)
	if err != nil {
		fmt.Printf("Error: failed to create config file: %v\n", err)
		os.Exit(1)
	}
	return altsrc.StringSourcer(path)
}
