// Command samwise-wake sends a single Wake-on-LAN magic packet to a
// destination MAC address over a named network interface, for testing
// a device's WoL configuration outside of a running Controller.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/bnavetta/samwise/internal/wol"
)

func main() {
	cmd := &cobra.Command{
		Use:   "samwise-wake <interface> <destination-mac>",
		Short: "Send one Wake-on-LAN magic packet and exit",
		Args:  cobra.ExactArgs(2),
		RunE:  runWake,
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runWake(cmd *cobra.Command, args []string) error {
	ifaceName, destArg := args[0], args[1]

	destination, err := net.ParseMAC(destArg)
	if err != nil {
		return fmt.Errorf("invalid destination MAC address %q: %w", destArg, err)
	}

	waker := wol.NewWaker()
	defer waker.Close()

	if err := waker.Wake(ifaceName, destination); err != nil {
		return err
	}

	fmt.Println("sent magic packet")
	return nil
}
