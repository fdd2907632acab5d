package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gsambyal/h2inspect/capture"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List capture resources",
	GroupID: "info",
}

var listInterfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List network interfaces available for live capture",
	RunE:  runListInterfaces,
}

func init() {
	listCmd.AddCommand(listInterfacesCmd)
}

func runListInterfaces(cmd *cobra.Command, args []string) error {
	ifaces, err := capture.ListInterfaces()
	if err != nil {
		return err
	}

	fmt.Println("Available network interfaces:")
	fmt.Println(strings.Repeat("-", 60))
	for i, iface := range ifaces {
		fmt.Printf("%d. %s\n", i+1, iface.Name)
		if iface.Description != "" {
			fmt.Printf("   Description: %s\n", iface.Description)
		}
		for _, addr := range iface.Addresses {
			fmt.Printf("   Address: %s\n", addr)
		}
	}
	return nil
}
