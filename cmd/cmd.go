package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/orderflow/realtime-gateway/config"
)

const (
	ServiceName = "orderflow-gateway"
)

// Run parses CLI flags and dispatches to a subcommand.
func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Realtime WebSocket event-delivery gateway",
		Commands: []*cli.Command{
			serverCmd(),
		},
	}
	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config_file", Usage: "Not read: configuration is loaded from gateway.yaml in the working directory or /etc/orderflow-gateway/"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(nil)
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down")
			return app.Stop(context.Background())
		},
	}
}
