package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"go.klb.dev/cursedboard/internal/control"
)

func newStatusCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's identity and peers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := control.Do(control.Request{Op: "status"})
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			fmt.Printf("instance  %s\n", resp.ID)
			fmt.Printf("name      %s\n", resp.Name)
			fmt.Printf("group     %s\n", resp.Group)
			fmt.Printf("pairing   %v\n", resp.Pairing)
			fmt.Println()

			if len(resp.Peers) == 0 {
				fmt.Println("no peers")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PEER\tNAME\tADDR\tSTATE")
			for _, p := range resp.Peers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Addr, p.State)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "output raw JSON")
	return cmd
}
