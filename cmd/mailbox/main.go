// Command mailbox runs the Message Mailbox component: fifth in the
// dependency order, serving the postprocessor's notification posts and
// each user's HTTP polling of their FIFO queue.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"docindex/pkg/config"
	"docindex/pkg/logger"
	"docindex/pkg/mailbox"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (defaults omitted values)")
	flag.Parse()

	if err := logger.Initialize(logger.Config{
		Level:         logger.INFO,
		LogDir:        "logs",
		FileName:      "mailbox.log",
		ConsoleOutput: true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "mailbox: failed to initialize logger: %v\n", err)
	}
	defer logger.GetDefault().Close()

	cfg := config.Get()
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			logger.Error("mailbox: load config %s: %v", *configPath, err)
			os.Exit(1)
		}
	}
	transportCfg := cfg.GetTransportConfig()
	mailboxCfg := cfg.GetMailboxConfig()

	svc := mailbox.NewService()
	repAddr := fmt.Sprintf(":%d", transportCfg.MailboxPort)
	httpAddr := fmt.Sprintf(":%d", mailboxCfg.HTTPPort)
	if err := svc.Start(repAddr, httpAddr); err != nil {
		logger.Error("mailbox: start %s/%s: %v", repAddr, httpAddr, err)
		os.Exit(1)
	}
	defer svc.Stop()

	logger.Info("mailbox ready: rep=%s http=%s", repAddr, httpAddr)
	waitForShutdown()
	logger.Info("mailbox shutting down")
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
