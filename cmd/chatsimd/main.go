package main

import (
	"flag"

	"chatsim/internal/config"
	"chatsim/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	dataFlag := flag.String("data", "", "data directory (default $CHATSIM_DATA or ~/.chatsim)")
	configFlag := flag.String("config", "", "config file path (default <data>/config.toml)")
	listenFlag := flag.String("listen", "", "listen address (overrides config server.listen)")
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	dataDir := *dataFlag
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			DataDir:    dataDir,
			ConfigFile: *configFlag,
			Listen:     *listenFlag,
			Debug:      *debugFlag,
		}),
	)

	app.Run()
}
