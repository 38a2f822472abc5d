package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"go.klb.dev/cursedboard/internal/control"
)

func newPairCmd() *cobra.Command {
	var seconds int

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Open a pairing window on the running daemon",
		Long: `Tells the local daemon to accept unknown peers for a limited time.

While the window is open, peers outside the trust store — and peers from a
different group — may connect, provided they still prove knowledge of the
shared secret. Each successfully paired peer is added to the trust store
and reconnects without pairing from then on if it shares this host's
group; a peer from another group is still only dialled while pairing.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := control.Do(control.Request{Op: "pair", Seconds: seconds})
			if err != nil {
				return err
			}
			fmt.Println(resp.OK)
			return nil
		},
	}

	cmd.Flags().IntVar(&seconds, "seconds", 60, "how long to keep the pairing window open")
	return cmd
}
