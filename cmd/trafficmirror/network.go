package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ctrldec/trafficmirror/internal/config"
	"github.com/ctrldec/trafficmirror/internal/geo"
	"github.com/ctrldec/trafficmirror/internal/network"
)

var (
	networkLane string
	networkPos  float64
)

var networkCmd = &cobra.Command{
	Use:   "network [file.net.xml]",
	Short: "Summarise a road network file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetString("network.file")
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return errors.New("no network file given and network.file is not set")
		}

		net, err := network.Load(path)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		s := net.Summary()
		fmt.Fprintf(out, "edges:      %d (+%d internal)\n", s.Edges, s.InternalEdges)
		fmt.Fprintf(out, "lanes:      %d, %.1f m total\n", s.Lanes, s.TotalLaneLength)
		fmt.Fprintf(out, "junctions:  %d (%d signalized)\n", s.Junctions, s.Signals)
		fmt.Fprintf(out, "bounds:     %.2f,%.2f %.2f,%.2f\n", s.Bounds[0], s.Bounds[1], s.Bounds[2], s.Bounds[3])

		proj, err := net.Projection()
		switch {
		case errors.Is(err, geo.ErrNoProjection):
			fmt.Fprintln(out, "projection: none")
		case err != nil:
			fmt.Fprintf(out, "projection: %v\n", err)
		default:
			fmt.Fprintf(out, "projection: EPSG:%d\n", proj.EPSG())
		}

		if networkLane == "" {
			return nil
		}
		pos, heading, err := net.LanePosition(networkLane, networkPos)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s@%.1f: x=%.2f y=%.2f heading=%.1f", networkLane, networkPos, pos.X, pos.Y, heading)
		if proj != nil {
			if lon, lat, ok := proj.LonLat(pos); ok {
				fmt.Fprintf(out, " lon=%.6f lat=%.6f", lon, lat)
			}
		}
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	networkCmd.Flags().StringVar(&networkLane, "lane", "", "Print the position of a lane offset, in network and WGS84 coordinates")
	networkCmd.Flags().Float64Var(&networkPos, "pos", 0, "Offset along --lane in meters")
}
