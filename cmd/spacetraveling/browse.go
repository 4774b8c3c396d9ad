package main

import (
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/eringen/spacetraveling/feed"
	"github.com/eringen/spacetraveling/tui"
)

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse posts in the terminal",
	RunE:  browseAction,
}

func browseAction(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	// The terminal belongs to the UI.
	log := initLogger(cfg, io.Discard)
	ctx := cmd.Context()

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	ctrl, err := feed.Start(ctx, b.source, feed.WithLogger(log))
	if err != nil {
		return err
	}
	defer ctrl.Close()

	_, err = tea.NewProgram(tui.New(ctx, ctrl, b.source), tea.WithAltScreen()).Run()
	return err
}
