// Command tatami runs the compositor.
package main

import (
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"

	"deedles.dev/tatami/comp"
	"deedles.dev/tatami/config"
	"deedles.dev/tatami/render"
	"deedles.dev/tatami/wire"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	flagConfig string
	flagSocket string
	flagWidth  int
	flagHeight int
	flagHz     int
)

func main() {
	root := &cobra.Command{
		Use:           "tatami",
		Short:         "A tiling surface compositor",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringVarP(&flagConfig, "config", "c", "", "path to config file")
	root.Flags().StringVarP(&flagSocket, "socket", "s", "", "display socket name")
	root.Flags().IntVar(&flagWidth, "width", 1920, "output width")
	root.Flags().IntVar(&flagHeight, "height", 1080, "output height")
	root.Flags().IntVar(&flagHz, "refresh", 60, "output refresh rate in Hz")

	err := root.Execute()
	if err != nil {
		logrus.WithError(err).Fatal("tatami exited")
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	log := logrus.New()
	if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		log.SetLevel(level)
	}

	strategy, err := cfg.Strategy()
	if err != nil {
		return err
	}

	socket := flagSocket
	if socket == "" {
		socket = cfg.Socket
	}
	var path string
	if socket != "" {
		path = filepath.Join(wire.RuntimeDir(), socket)
	}

	lis, path, err := wire.Listen(path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer os.Remove(path)

	server := comp.NewServer(lis, comp.Options{
		Log:      log,
		Strategy: strategy,
		Backend:  &render.Software{Log: log.WithField("component", "render")},
	})
	defer server.Close()

	server.AddOutput("headless-0", comp.Mode{Width: flagWidth, Height: flagHeight, Refresh: flagHz}, image.Point{})

	log.WithField("socket", path).Info("tatami running")
	os.Setenv("TATAMI_DISPLAY", path)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	err = server.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
