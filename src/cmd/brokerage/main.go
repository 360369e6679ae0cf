package main

import (
	"os"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tradoverse/brokerage/src/brokers"
)

var rootCmd = &cobra.Command{
	Use:   "brokerage",
	Short: "Broker connectivity and order execution service",
}

var brokersCmd = &cobra.Command{
	Use:   "brokers",
	Short: "List supported brokers and their configuration state",
	Run: func(cmd *cobra.Command, args []string) {
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Type", "Name", "Auth", "Regions", "Approval", "Configured"})
		table.SetAlignment(tablewriter.ALIGN_LEFT)

		for _, b := range brokers.AvailableBrokers() {
			configured := "no"
			if brokers.IsBrokerConfigured(b.Type) {
				configured = "yes"
			}

			approval := ""
			if b.RequiresApproval {
				approval = "required"
			}

			table.Append([]string{
				string(b.Type),
				b.Name,
				string(b.AuthType),
				joinRegions(b.SupportedRegions),
				approval,
				configured,
			})
		}

		table.Render()
	},
}

func joinRegions(regions []string) string {
	out := ""
	for i, region := range regions {
		if i > 0 {
			out += ","
		}
		out += region
	}
	return out
}

func main() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(brokersCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("brokerage: %v", err)
	}
}
