// Command samwise-agent runs the Samwise Agent: it serves the
// per-device RPC surface (ping/reboot/shutdown/suspend) that the
// Controller polls and drives, from inside the booted OS it manages.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bnavetta/samwise/internal/agentserver"
	"github.com/bnavetta/samwise/internal/config"
	"github.com/bnavetta/samwise/internal/logging"
)

var (
	configPath string
	debugLogs  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "samwise-agent",
		Short: "Samwise Agent: per-device RPC surface for ping/reboot/shutdown/suspend",
		Args:  cobra.NoArgs,
		RunE:  runAgent,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the Agent's TOML configuration file")
	rootCmd.PersistentFlags().BoolVar(&debugLogs, "debug", false, "use human-readable development logging")
	rootCmd.MarkPersistentFlagRequired("config")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an Agent configuration file without starting the server",
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
	_, err := config.LoadAgentConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Println("configuration is valid")
	return nil
}

func runAgent(cmd *cobra.Command, args []string) error {
	log, err := logging.Setup(debugLogs)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.LoadAgentConfig(configPath)
	if err != nil {
		return err
	}

	rpcCfg := agentserver.DefaultCommands(agentserver.Config{
		TargetName:      cfg.TargetName,
		RebootCommand:   agentserver.Command(cfg.RebootCommand),
		ShutdownCommand: agentserver.Command(cfg.ShutdownCommand),
		SuspendCommand:  agentserver.Command(cfg.SuspendCommand),
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: agentserver.NewServer(rpcCfg, log).Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("agent listening", zap.String("address", cfg.ListenAddress), zap.String("target", cfg.TargetName))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
