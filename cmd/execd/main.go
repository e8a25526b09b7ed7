package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"execution-kit/config"
	"execution-kit/internal/container"
	"execution-kit/sim"
)

var (
	cfgFile string
	envFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "execd",
		Short: "Execution scheduling and smart order routing",
		Long:  `Plans parent orders with TWAP/VWAP/POV/ArrivalPrice/IS, routes child orders across lit and dark venues and monitors execution.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env 可选，缺失时忽略
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/config.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with EXEC_* overrides")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logs to stderr")

	rootCmd.AddCommand(serveCmd(), planCmd(), routeCmd(), simulateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the execution engine with the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := container.New(cfgFile)
			if err != nil {
				return err
			}
			if err := c.Build(); err != nil {
				_ = c.Stop()
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := c.Start(ctx); err != nil {
				_ = c.Stop()
				return err
			}
			log := c.Logger()
			if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				log.Warn("sd_notify ready failed", zap.Error(err))
			} else if ok {
				log.Info("notified systemd")
			}
			log.Info("execd running", zap.String("api", c.APIAddr()))

			<-ctx.Done()
			log.Info("received shutdown signal")
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			return c.Stop()
		},
	}
}

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <scenario.yaml>",
		Short: "Print the initial schedule for a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := preview(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, p.Schedule)
		},
	}
}

func routeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route <scenario.yaml>",
		Short: "Route the first slice of a scenario and print the allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := preview(args[0])
			if err != nil {
				return err
			}
			if p.RouteError != "" {
				return fmt.Errorf("route: %s", p.RouteError)
			}
			return printJSON(cmd, p.Allocation)
		},
	}
}

func simulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Replay a scenario on a virtual clock against the paper gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := runner()
			if err != nil {
				return err
			}
			o, spec, bars, err := sim.LoadScenario(args[0])
			if err != nil {
				return err
			}
			res, err := r.Run(cmd.Context(), o, spec, bars)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func preview(path string) (*sim.Preview, error) {
	r, err := runner()
	if err != nil {
		return nil, err
	}
	o, spec, bars, err := sim.LoadScenario(path)
	if err != nil {
		return nil, err
	}
	return r.Preview(o, spec, bars)
}

func runner() (*sim.Runner, error) {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, err
	}
	log := zap.NewNop()
	if verbose {
		if log, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}
	return sim.BuildRunner(cfg, log)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
