package main

import (
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"ble-sensors.klederson.com/internal/app"
	"ble-sensors.klederson.com/internal/bluetooth"
)

var (
	flagDemo   bool
	flagConfig string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ble-sensors",
		Short: "BLE Sensors - Terminal dashboard for Ruuvi environmental sensors",
		Long: `BLE Sensors listens for RuuviTag broadcasts, keeps the latest reading of
every sensor in a live dashboard and stores each reading in a history database.

Requires sudo or CAP_NET_ADMIN capability for real Bluetooth scanning.
Use --demo flag for demonstration mode without Bluetooth hardware.`,
		SilenceUsage: true,
		RunE:         run,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to the configuration file (default $BLE_SENSORS_CONFIG or sensors.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagDemo, "demo", false, "Use synthetic sensors instead of the Bluetooth adapter")

	rootCmd.AddCommand(
		newServeCmd(),
		newSensorsCmd(),
		newHistoryCmd(),
		newTrimCmd(),
	)

	return rootCmd
}

func run(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(flagConfig, false, flagDemo)
	if err != nil {
		return err
	}
	defer rt.Close()

	ing, err := rt.startIngestion()
	if err != nil {
		printAdapterHelp(err)
		return err
	}
	defer ing.Stop()

	model := app.New(app.Options{
		Table:      ing.table,
		History:    rt.store,
		Unit:       rt.unit(),
		Thresholds: rt.thresholds(),
		Interval:   rt.cfg.UpdateInterval,
		Source:     rt.sourceLabel(),
		Note:       "log: " + rt.cfg.Logging.LogFile,
	})

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
	)

	_, err = p.Run()
	return err
}

func printAdapterHelp(err error) {
	if !errors.Is(err, bluetooth.ErrAdapter) {
		return
	}
	fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
	fmt.Fprintln(os.Stderr, "Bluetooth scanning requires elevated permissions.")
	fmt.Fprintln(os.Stderr, "Try one of:")
	fmt.Fprintln(os.Stderr, "  sudo ./ble-sensors")
	fmt.Fprintln(os.Stderr, "  sudo setcap cap_net_admin+ep ./ble-sensors")
	fmt.Fprintln(os.Stderr, "  ./ble-sensors --demo    (demo mode, no hardware needed)")
}
