package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"ble-sensors.klederson.com/internal/api"
	"ble-sensors.klederson.com/internal/history"
	"ble-sensors.klederson.com/internal/sensor"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run headless: ingest broadcasts and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(flagConfig, true, flagDemo)
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

			gin.SetMode(gin.ReleaseMode)
			h := api.NewHandler(api.Deps{
				Table:      ing.table,
				Store:      rt.store,
				Names:      ing.names,
				Pipeline:   ing.pipeline,
				Unit:       rt.unit(),
				Thresholds: rt.thresholds(),
				Interval:   rt.cfg.UpdateInterval,
			}, rt.log)
			server := &http.Server{
				Addr:    rt.cfg.HTTP.Addr,
				Handler: api.NewRouter(h, rt.cfg.HTTP, rt.log),
			}

			log := rt.log.WithField("component", "main")
			errCh := make(chan error, 1)
			go func() {
				log.WithField("addr", server.Addr).Info("HTTP server starting")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(stop)

			select {
			case <-stop:
				log.Info("shutdown signal received, stopping services")
			case err := <-errCh:
				log.WithError(err).Error("HTTP server failed")
				return err
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("HTTP server shutdown: %w", err)
			}
			log.Info("server gracefully stopped")
			return nil
		},
	}
}

func newSensorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sensors",
		Short: "Manage the sensor registry",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List registered sensors",
			Args:  cobra.NoArgs,
			RunE: withStore(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
				return listSensors(ctx, rt.store, cmd.OutOrStdout())
			}),
		},
		&cobra.Command{
			Use:   "rename <id> <name>",
			Short: "Change the display name of a sensor",
			Args:  cobra.MinimumNArgs(2),
			RunE: withStore(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				name := strings.TrimSpace(strings.Join(args[1:], " "))
				if name == "" {
					return errors.New("name must not be empty")
				}
				if err := rt.store.RenameSensor(ctx, id, name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sensor %d renamed to %q\n", id, name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Remove a sensor and all of its readings",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				if err := rt.store.DeleteSensor(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sensor %d deleted\n", id)
				return nil
			}),
		},
	)
	return cmd
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <mac>",
		Short: "Print the stored readings of one sensor",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			mac := sensor.CanonicalMAC(args[0])
			if !sensor.IsValidMAC(mac) {
				return fmt.Errorf("invalid MAC address %q", args[0])
			}
			progress := func(stage string) {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s...\n", stage)
			}
			return printHistory(ctx, rt.store, mac, rt.unit(), cmd.OutOrStdout(), progress)
		}),
	}
}

func newTrimCmd() *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "trim",
		Short: "Delete stored readings older than the retention window",
		Args:  cobra.NoArgs,
		RunE: withStore(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			retention := rt.cfg.History.Retention
			if hours > 0 {
				retention = time.Duration(hours) * time.Hour
			}
			deleted, err := rt.store.Trim(ctx, retention)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d readings older than %s\n", deleted, retention)
			return nil
		}),
	}
	cmd.Flags().IntVar(&hours, "hours", 0, "Retention window in hours (default from config)")
	return cmd
}

type storeRunE func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error

// withStore opens the database for commands that only work on stored data.
func withStore(fn storeRunE) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(flagConfig, false, flagDemo)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(cmd.Context(), rt, cmd, args)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid sensor id %q", s)
	}
	return id, nil
}

func listSensors(ctx context.Context, store *history.Store, w io.Writer) error {
	sensors, err := store.ListSensors(ctx)
	if err != nil {
		return err
	}
	if len(sensors) == 0 {
		fmt.Fprintln(w, "no sensors registered")
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "MAC", "NAME")
	for _, s := range sensors {
		t.Row(strconv.FormatInt(s.ID, 10), s.MAC, s.Name)
	}
	fmt.Fprintln(w, t.String())
	return nil
}

func printHistory(ctx context.Context, store *history.Store, mac string, unit sensor.TemperatureFormat, w io.Writer, progress history.ProgressFunc) error {
	points, err := store.HistoryFor(ctx, mac, progress)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		fmt.Fprintf(w, "no stored readings for %s\n", mac)
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TIME", "HOURS", "TEMP "+unit.Suffix(), "HUMIDITY %")
	for _, p := range points {
		t.Row(
			p.CapturedAt.Local().Format(time.DateTime),
			strconv.FormatFloat(p.ElapsedHours(), 'f', 3, 64),
			strconv.FormatFloat(p.Temperature, 'f', 1, 64),
			strconv.FormatFloat(p.Humidity, 'f', 1, 64),
		)
	}
	fmt.Fprintln(w, t.String())
	fmt.Fprintf(w, "%d readings\n", len(points))
	return nil
}
