// Command preprocessor runs the Preprocessor component: third in the
// dependency order, after the Watcher it pulls file events from.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docindex/pkg/config"
	"docindex/pkg/logger"
	"docindex/pkg/preprocessor"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (defaults omitted values)")
	watcherAddr := flag.String("watcher-addr", "localhost", "host the watcher's push/router sockets are bound on")
	flag.Parse()

	if err := logger.Initialize(logger.Config{
		Level:         logger.INFO,
		LogDir:        "logs",
		FileName:      "preprocessor.log",
		ConsoleOutput: true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "preprocessor: failed to initialize logger: %v\n", err)
	}
	defer logger.GetDefault().Close()

	cfg := config.Get()
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			logger.Error("preprocessor: load config %s: %v", *configPath, err)
			os.Exit(1)
		}
	}
	transportCfg := cfg.GetTransportConfig()

	watcherPushAddr := fmt.Sprintf("%s:%d", *watcherAddr, transportCfg.PushPort)
	watcherRouterAddr := fmt.Sprintf("%s:%d", *watcherAddr, transportCfg.RouterPort)
	svc, err := preprocessor.Dial(watcherPushAddr, watcherRouterAddr)
	if err != nil {
		logger.Error("preprocessor: dial watcher: %v", err)
		os.Exit(1)
	}
	svc.SetFetchDeadline(time.Duration(transportCfg.IntraClusterDeadlineMS) * time.Millisecond)

	pushAddr := fmt.Sprintf(":%d", transportCfg.PreprocessIn)
	repAddr := fmt.Sprintf(":%d", transportCfg.PreprocessReq)
	if err := svc.Start(pushAddr, repAddr); err != nil {
		logger.Error("preprocessor: start %s/%s: %v", pushAddr, repAddr, err)
		os.Exit(1)
	}
	defer svc.Stop()

	logger.Info("preprocessor ready: push=%s rep=%s watcher=%s/%s", pushAddr, repAddr, watcherPushAddr, watcherRouterAddr)
	waitForShutdown()
	logger.Info("preprocessor shutting down")
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
