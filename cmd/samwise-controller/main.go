// Command samwise-controller runs the Samwise Controller: it serves
// the HTTP action surface and drives one per-device state machine for
// every device named in its configuration file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bnavetta/samwise/internal/config"
	"github.com/bnavetta/samwise/internal/controller"
	"github.com/bnavetta/samwise/internal/logging"
)

var (
	configPath  string
	listenAddr  string
	ouiDBPath   string
	debugLogs   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "samwise-controller",
		Short: "Samwise Controller: HTTP action surface and per-device state machines",
		Args:  cobra.NoArgs,
		RunE:  runController,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the Controller's TOML configuration file")
	rootCmd.PersistentFlags().BoolVar(&debugLogs, "debug", false, "use human-readable development logging")
	rootCmd.MarkPersistentFlagRequired("config")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", ":8674", "HTTP listen address")
	rootCmd.PersistentFlags().StringVar(&ouiDBPath, "oui-db-path", "", "optional path to an IEEE OUI database for vendor-name log enrichment")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the Controller (same as invoking with no subcommand)",
		Args:  cobra.NoArgs,
		RunE:  runController,
	}
	rootCmd.AddCommand(runCmd)

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a Controller configuration file without starting the server",
		Args:  cobra.NoArgs,
		RunE:  runValidate,
	}
	rootCmd.AddCommand(validateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	_, err := config.LoadControllerConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Println("configuration is valid")
	return nil
}

func runController(cmd *cobra.Command, args []string) error {
	log, err := logging.Setup(debugLogs)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.LoadControllerConfig(configPath)
	if err != nil {
		return err
	}

	ctl := controller.New(cfg, controller.Options{
		ListenAddress:   listenAddr,
		OUIDatabasePath: ouiDBPath,
	}, log)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- ctl.Serve()
	}()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info("received signal, shutting down", zap.String("signal", s.String()))
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	return ctl.Stop(context.Background())
}
