package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ctrldec/trafficmirror/internal/mirror"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the routes vehicles can be injected on",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, end, err := startSession(cmd.Context())
		if err != nil {
			return err
		}
		defer end()

		catalog := session.Routes()
		if err := catalog.Refresh(cmd.Context()); err != nil {
			return err
		}
		for i, id := range catalog.Routes() {
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", i, id)
		}
		return nil
	},
}

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Print every signal controller with its controlled links",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, end, err := startSession(cmd.Context())
		if err != nil {
			return err
		}
		defer end()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, sig := range session.Signals() {
			fmt.Fprintf(w, "%s\tprogram=%s\tstate=%s\n", sig.ID, sig.Program, sig.State)
			for i, l := range sig.Links {
				fmt.Fprintf(w, "  %d\t%s\t-> %s\n", i, l.FromLane, l.ToLane)
			}
		}
		return w.Flush()
	},
}

var (
	injectRoute    int
	injectID       string
	injectMaxSteps int
)

var injectCmd = &cobra.Command{
	Use:   "inject",
	Short: "Inject a vehicle and step until it enters the network",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		session, end, err := startSession(ctx)
		if err != nil {
			return err
		}
		defer end()

		id := injectID
		if id == "" {
			id = "mirror_" + uuid.NewString()[:8]
		}
		if injectRoute < 0 {
			err = session.InjectBasic(ctx, id)
		} else {
			err = session.InjectOnRoute(ctx, id, injectRoute)
		}
		if err != nil {
			return fmt.Errorf("injecting %s: %w", id, err)
		}
		Logger.Info("Vehicle injected", "vehicle", id, "route", injectRoute)

		return waitForVehicle(ctx, cmd, session, id)
	},
}

func init() {
	injectCmd.Flags().IntVar(&injectRoute, "route", -1, "Route index from the routes command; negative uses the first route")
	injectCmd.Flags().StringVar(&injectID, "id", "", "Vehicle ID; generated when empty")
	injectCmd.Flags().IntVar(&injectMaxSteps, "max-steps", 50, "Steps to wait for the vehicle to depart")
}

func waitForVehicle(ctx context.Context, cmd *cobra.Command, session *mirror.Session, id string) error {
	session.SetDelay(0)
	for i := 0; i < injectMaxSteps; i++ {
		if err := session.Step(ctx); err != nil {
			Logger.Warn("Step failed", "tick", session.Tick(), "error", err)
			continue
		}
		h, ok := session.Vehicle(id)
		if !ok {
			continue
		}
		v, ok := h.Snapshot()
		if !ok {
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s departed at tick %d: x=%.2f y=%.2f speed=%.2f angle=%.1f\n",
			v.ID, session.Tick(), v.Position.X, v.Position.Y, v.Speed, v.Angle)
		return nil
	}
	return fmt.Errorf("vehicle %s did not depart within %d steps", id, injectMaxSteps)
}
