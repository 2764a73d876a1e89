package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/helpchat/internal/config"
	"github.com/matheus3301/helpchat/internal/daemon"
	"github.com/matheus3301/helpchat/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	if err := config.LoadEnv(profile.EnvPath()); err != nil {
		fail(err)
	}

	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		fail(fmt.Errorf("load config: %w", err))
	}
	name := cfg.ProfileName(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fail(err)
	}
	settings, err := cfg.Profile(name)
	if err != nil {
		fail(err)
	}
	if err := settings.Validate(); err != nil {
		fail(fmt.Errorf("profile %q: %w", name, err))
	}

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: name, Settings: settings}),
	)

	app.Run()
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
