package main

import (
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

// flags defines the CLI flags for wsdemo. Each can also be set using an
// environment variable or the application's TOML configuration file.
func flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "listen-addr",
			Usage: "address the WebSocket server binds to",
			Value: "localhost:8080",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSDEMO_LISTEN_ADDR"),
				toml.TOML("wsdemo.listen_addr", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "max-message-bytes",
			Usage: "maximum size of a single reassembled message",
			Value: 16 * 1024 * 1024,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSDEMO_MAX_MESSAGE_BYTES"),
				toml.TOML("wsdemo.max_message_bytes", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "handshake-workers",
			Usage: "number of handshakes negotiated concurrently (0 = GOMAXPROCS*4)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSDEMO_HANDSHAKE_WORKERS"),
				toml.TOML("wsdemo.handshake_workers", configFilePath),
			),
		},
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSDEMO_PRETTY_LOG"),
				toml.TOML("wsdemo.pretty_log", configFilePath),
			),
		},
	}
}
