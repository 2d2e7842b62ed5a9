// Command oracle runs the Access Oracle: the first component in the
// dependency order (spec section 5), since every other component consults
// it before it can safely start.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"docindex/pkg/config"
	"docindex/pkg/database"
	"docindex/pkg/logger"
	"docindex/pkg/oracle"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (defaults omitted values)")
	dataDir := flag.String("data-dir", "./data", "directory for the shared sqlite database")
	flag.Parse()

	if err := logger.Initialize(logger.Config{
		Level:         logger.INFO,
		LogDir:        "logs",
		FileName:      "oracle.log",
		ConsoleOutput: true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "oracle: failed to initialize logger: %v\n", err)
	}
	defer logger.GetDefault().Close()

	cfg := config.Get()
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			logger.Error("oracle: load config %s: %v", *configPath, err)
			os.Exit(1)
		}
	}

	dbManager := database.GetInstance()
	if err := dbManager.Init(*dataDir); err != nil {
		logger.Error("oracle: init database: %v", err)
		os.Exit(1)
	}
	defer dbManager.Close()

	svc := oracle.New(dbManager.Repository())
	addr := fmt.Sprintf(":%d", cfg.GetTransportConfig().AccessPort)
	if err := svc.Serve(addr); err != nil {
		logger.Error("oracle: serve %s: %v", addr, err)
		os.Exit(1)
	}
	defer svc.Close()

	logger.Info("access oracle ready on %s", addr)
	waitForShutdown()
	logger.Info("access oracle shutting down")
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
