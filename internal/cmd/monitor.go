package cmd

import (
	"encoding/binary"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"ufo/internal/config"
	"ufo/internal/logging"
	"ufo/internal/tui"
	"ufo/internal/ufo"
)

func addMonitorCommand(rootCmd *cobra.Command) {
	var elementCt int64
	var stride int64

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Live cache occupancy dashboard",
		Long: "Starts a standalone engine with a demo object and renders a live " +
			"terminal dashboard of cache occupancy and per-object residency.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetConfigDir(ConfigDir)
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.SetLevel(cfg.Logging.Level)

			engine, err := ufo.NewEngine(ufo.EngineConfig{
				WatermarkLow:  cfg.Watermarks.Low,
				WatermarkHigh: cfg.Watermarks.High,
				TempDir:       cfg.Storage.TempDir,
			})
			if err != nil {
				return fmt.Errorf("starting engine: %w", err)
			}
			defer engine.Shutdown()

			proto, err := ufo.NewPrototype(0, stride)
			if err != nil {
				return err
			}
			populate := func(start, end int64, dst []byte) error {
				for i := start; i < end; i++ {
					binary.LittleEndian.PutUint64(dst[(i-start)*stride:], uint64(i))
				}
				return nil
			}
			h, err := engine.Allocate(proto, elementCt, populate)
			if err != nil {
				return fmt.Errorf("allocating demo object: %w", err)
			}
			defer h.Free()

			p := tea.NewProgram(tui.NewMonitorModel(engine), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}

	monitorCmd.Flags().Int64Var(&elementCt, "elements", 1<<20, "number of stride-sized elements in the demo object")
	monitorCmd.Flags().Int64Var(&stride, "stride", 8, "element size in bytes")
	rootCmd.AddCommand(monitorCmd)
}
