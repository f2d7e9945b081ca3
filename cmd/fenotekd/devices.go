package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/trymwestin/fenotek/internal/core/device"
)

var jsonOutput bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the doorbells of the account with their latest events",
	RunE: func(cmd *cobra.Command, _ []string) error {
		entry, err := setupAccount(cmd.Context())
		if err != nil {
			return err
		}

		snap := entry.Store.Snapshot()
		views := make([]device.View, 0, len(snap.Devices))
		for _, id := range snap.IDs() {
			views = append(views, snap.Devices[id].View())
		}
		return printDevices(cmd.OutOrStdout(), views, jsonOutput)
	},
}

func init() {
	devicesCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	rootCmd.AddCommand(devicesCmd)
}

func printDevices(out io.Writer, views []device.View, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tONLINE\tVERSION\tRELAYS\tEVENTS\tLAST EVENT")
	fmt.Fprintln(w, "--\t----\t------\t-------\t------\t------\t----------")
	for _, v := range views {
		last := "-"
		if ev, ok := v.Last[device.KindEvent]; ok {
			last = fmt.Sprintf("%s %s", ev.SubCategory, ev.CreatedAt.Local().Format(time.DateTime))
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%d\t%d\t%s\n",
			v.ID, v.Name, v.Available, v.SWVersion, len(v.Relays), v.EventCount, last)
	}
	return w.Flush()
}
