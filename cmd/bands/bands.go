// Package bands implements the bands sub-command, which prints the
// effective threshold bands and maintenance policy.
package bands

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/fieldwatch/internal/conf"
	"github.com/tphakala/fieldwatch/internal/engine"
	"github.com/tphakala/fieldwatch/internal/history"
	"github.com/tphakala/fieldwatch/internal/sensor"
	"github.com/tphakala/fieldwatch/internal/thresholds"
)

// Command creates the bands command
func Command(settings *conf.Settings) *cobra.Command {
	var sensorID string

	cmd := &cobra.Command{
		Use:   "bands",
		Short: "Show effective threshold bands",
		Long:  "Print the default band per sensor type. With --sensor, stored per-sensor overrides are applied.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []thresholds.Option
			if sensorID != "" && settings.History.Driver != conf.DriverMemory {
				db, err := history.OpenDatabase(settings.History)
				if err != nil {
					return err
				}
				if sqlDB, err := db.DB(); err == nil {
					defer sqlDB.Close()
				}
				store, err := thresholds.NewGormOverrideStore(db)
				if err != nil {
					return err
				}
				opts = append(opts, thresholds.WithStore(store))
			}

			registry, err := engine.BuildRegistry(settings, opts...)
			if err != nil {
				return err
			}
			if _, err := registry.Load(cmd.Context()); err != nil {
				return err
			}
			return Print(cmd.OutOrStdout(), registry, sensorID)
		},
	}

	cmd.Flags().StringVar(&sensorID, "sensor", "", "Apply overrides stored for this sensor id")
	return cmd
}

// Print writes the band table and maintenance intervals to w
func Print(w io.Writer, registry *thresholds.Registry, sensorID string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tMIN\tMAX\tCRITICAL LOW\tCRITICAL HIGH\tSOURCE")
	for _, t := range sensor.Types() {
		band, ok := registry.Default(t)
		source := "default"
		if sensorID != "" {
			if o, found := registry.Override(sensorID, t); found {
				band, ok, source = o, true, "override"
			}
		}
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", t,
			t.Format(band.Min), t.Format(band.Max),
			t.Format(band.Critical.Low), t.Format(band.Critical.High), source)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	policy := registry.Policy()
	tasks := make([]thresholds.MaintenanceTask, 0, len(policy.Intervals))
	for task := range policy.Intervals {
		tasks = append(tasks, task)
	}
	slices.Sort(tasks)

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tINTERVAL")
	for _, task := range tasks {
		fmt.Fprintf(tw, "%s\t%s\n", task, policy.Intervals[task])
	}
	fmt.Fprintf(tw, "firmware (%s)\t%s\n", policy.Firmware.Channel, policy.Firmware.CheckInterval)
	return tw.Flush()
}
