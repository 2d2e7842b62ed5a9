// Command watcher runs the Watcher component: second in the dependency
// order, after the Access Oracle it consults for folder subscribers.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docindex/pkg/config"
	"docindex/pkg/files"
	"docindex/pkg/logger"
	"docindex/pkg/oracleclient"
	"docindex/pkg/snapshot"
	"docindex/pkg/watcher"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (defaults omitted values)")
	dataDir := flag.String("data-dir", "./data", "directory for the watcher's snapshot store")
	oracleAddr := flag.String("oracle-addr", "", "access oracle address (host:port); defaults to the configured access port on localhost")
	flag.Parse()

	if err := logger.Initialize(logger.Config{
		Level:         logger.INFO,
		LogDir:        "logs",
		FileName:      "watcher.log",
		ConsoleOutput: true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "watcher: failed to initialize logger: %v\n", err)
	}
	defer logger.GetDefault().Close()

	cfg := config.Get()
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			logger.Error("watcher: load config %s: %v", *configPath, err)
			os.Exit(1)
		}
	}
	watchCfg := cfg.GetWatchConfig()
	transportCfg := cfg.GetTransportConfig()

	addr := *oracleAddr
	if addr == "" {
		addr = fmt.Sprintf("localhost:%d", transportCfg.AccessPort)
	}
	oracleClient, err := oracleclient.Dial(addr, time.Duration(transportCfg.IntraClusterDeadlineMS)*time.Millisecond)
	if err != nil {
		logger.Error("watcher: dial access oracle at %s: %v", addr, err)
		os.Exit(1)
	}
	defer oracleClient.Close()

	fm := files.NewManager()
	if err := fm.SetBasePath(watchCfg.Root); err != nil {
		logger.Error("watcher: set base path %s: %v", watchCfg.Root, err)
		os.Exit(1)
	}
	fm.SetAllowedExtensions(watchCfg.AllowedExtensions)

	snap, err := snapshot.Open(*dataDir)
	if err != nil {
		logger.Error("watcher: open snapshot store: %v", err)
		os.Exit(1)
	}
	defer snap.Close()

	svc, err := watcher.NewService(watchCfg.Root, fm, snap, oracleClient, oracleClient, watchCfg.IngestUserID)
	if err != nil {
		logger.Error("watcher: construct service: %v", err)
		os.Exit(1)
	}
	if watchCfg.DebounceMS > 0 {
		svc.SetDebounceDelay(time.Duration(watchCfg.DebounceMS) * time.Millisecond)
	}
	if watchCfg.Workers > 0 {
		svc.SetWorkerCount(watchCfg.Workers)
	}

	pushAddr := fmt.Sprintf(":%d", transportCfg.PushPort)
	routerAddr := fmt.Sprintf(":%d", transportCfg.RouterPort)
	if err := svc.Start(pushAddr, routerAddr); err != nil {
		logger.Error("watcher: start %s/%s: %v", pushAddr, routerAddr, err)
		os.Exit(1)
	}
	defer svc.Stop()

	logger.Info("watcher ready: push=%s router=%s root=%s", pushAddr, routerAddr, watchCfg.Root)
	waitForShutdown()
	logger.Info("watcher shutting down")
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
