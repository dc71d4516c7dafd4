package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-flow/internal/app"
	"github.com/hackgods/clinic-flow/internal/config"
	"github.com/hackgods/clinic-flow/internal/logger"
)

type cli struct {
	timeout time.Duration
	rt      *app.Runtime
}

func main() {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "clinicctl",
		Short: "Operational commands for the clinic flow engine",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Store == config.StoreMemory {
				return fmt.Errorf("clinicctl operates on a shared store; STORE=%s has nothing to act on", cfg.Store)
			}
			logger.Init(cfg.Env, cfg.LogLevel)

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			c.rt, err = app.Open(ctx, cfg, prometheus.NewRegistry())
			return err
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "deadline for the command")

	rootCmd.AddCommand(c.sweepCmd())
	rootCmd.AddCommand(c.verifyDelayCmd())
	rootCmd.AddCommand(c.rolloverCmd())
	rootCmd.AddCommand(c.syncPatientCmd())
	rootCmd.AddCommand(c.delaysCmd())

	err := rootCmd.Execute()
	if c.rt != nil {
		c.rt.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

func (c *cli) ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), c.timeout)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%q is not a valid UUID", raw)
	}
	return id, nil
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation sweep and print its report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()

			rep, err := c.rt.Sweep.Run(ctx)
			if perr := printJSON(cmd, rep); perr != nil {
				return perr
			}
			return err
		},
	}
}

func (c *cli) verifyDelayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-delay <appointment-id>",
		Short: "Apply the delay window to one appointment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := c.ctx(cmd)
			defer cancel()

			a, changed, err := c.rt.Appointments.VerifyDelay(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"appointment_id": a.ID,
				"status":         a.Status,
				"changed":        changed,
			})
		},
	}
}

func (c *cli) rolloverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollover",
		Short: "Reset today's occupied time on every room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()

			n, err := c.rt.Rooms.DailyRollover(ctx)
			if perr := printJSON(cmd, map[string]int{"reset": n}); perr != nil {
				return perr
			}
			return err
		},
	}
}

func (c *cli) syncPatientCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-patient <patient-id>",
		Short: "Recompute the mirrored current stage of one patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := c.ctx(cmd)
			defer cancel()

			stage, err := c.rt.Pathways.SyncPatient(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"patient_id": id.String(), "current_stage": stage})
		},
	}
}

func (c *cli) delaysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delays <pathway-id>",
		Short: "List the stages of a pathway running past their estimate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := c.ctx(cmd)
			defer cancel()

			delays, err := c.rt.Pathways.DelayedStages(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, delays)
		},
	}
}
