package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rustpanel-project/rustpanel/internal/protocol"
)

func rpcidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rpcid [name|0xID]...",
		Short: "Show wire identifiers for bridge operations",
		Long: `Print the 32-bit identifier the bridge uses for each operation name.
Hex arguments are looked up in reverse. With no arguments every known
operation is listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = protocol.Names()
			}

			tw := tablewriter.NewWriter(os.Stdout)
			tw.SetHeader([]string{"Name", "ID", "Hex"})
			tw.SetAutoWrapText(false)

			for _, arg := range args {
				if strings.HasPrefix(arg, "0x") || strings.HasPrefix(arg, "0X") {
					id, err := strconv.ParseUint(arg[2:], 16, 32)
					if err != nil {
						return fmt.Errorf("invalid id %q", arg)
					}
					name, ok := protocol.NameOf(uint32(id))
					if !ok {
						name = "?"
					}
					tw.Append([]string{name, strconv.FormatUint(id, 10), fmt.Sprintf("0x%08X", id)})
					continue
				}

				id := protocol.RPCID(arg)
				tw.Append([]string{arg, strconv.FormatUint(uint64(id), 10), fmt.Sprintf("0x%08X", id)})
			}

			tw.Render()
			return nil
		},
	}
}
