package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/deocean-bridge/internal/bridges/deocean"
	"github.com/nerrad567/deocean-bridge/internal/infrastructure/config"
)

// check loads the configuration and parses both tables without touching
// the gateway. Bad table lines are reported and make the check fail.
func check(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if _, err := sessionConfig(cfg.Gateway); err != nil {
		return err
	}
	fmt.Fprintf(out, "config %s: ok (gateway %s)\n", configPath, cfg.Gateway.Address())

	deviceTable, err := cfg.Tables.DeviceTable()
	if err != nil {
		return fmt.Errorf("loading device table: %w", err)
	}
	sceneTable, err := cfg.Tables.SceneTable()
	if err != nil {
		return fmt.Errorf("loading scene table: %w", err)
	}

	devices, deviceErrs := deocean.ParseDeviceTable(deviceTable)
	for _, d := range devices {
		fmt.Fprintf(out, "device  %-24s %-6s %s\n", d.Name, d.Type, d.Address)
	}
	scenes, sceneErrs := deocean.ParseSceneTable(sceneTable)
	for _, s := range scenes {
		fmt.Fprintf(out, "scene   %-24s %s:%d (%d targets)\n", s.Name, s.Address, s.Channel, len(s.Targets))
	}

	problems := make([]error, 0, len(deviceErrs)+len(sceneErrs))
	problems = append(problems, deviceErrs...)
	problems = append(problems, sceneErrs...)
	for _, p := range problems {
		fmt.Fprintf(out, "error   %v\n", p)
	}
	fmt.Fprintf(out, "%d devices, %d scenes, %d problems\n", len(devices), len(scenes), len(problems))

	if len(problems) > 0 {
		return fmt.Errorf("%d table problems", len(problems))
	}
	return nil
}
