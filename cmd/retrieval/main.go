// Command retrieval runs the Retrieval Agent: last in the dependency
// order, consulting the Access Oracle and the Preprocessor and serving
// the user-facing chat HTTP surface.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"docindex/pkg/config"
	"docindex/pkg/database"
	"docindex/pkg/llm"
	"docindex/pkg/logger"
	"docindex/pkg/retrieval"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (defaults omitted values)")
	dataDir := flag.String("data-dir", "./data", "directory for the shared sqlite database")
	oracleAddr := flag.String("oracle-addr", "localhost", "host the access oracle's reply socket is bound on")
	preprocessorAddr := flag.String("preprocessor-addr", "localhost", "host the preprocessor's reply socket is bound on")
	flag.Parse()

	if err := logger.Initialize(logger.Config{
		Level:         logger.INFO,
		LogDir:        "logs",
		FileName:      "retrieval.log",
		ConsoleOutput: true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "retrieval: failed to initialize logger: %v\n", err)
	}
	defer logger.GetDefault().Close()

	cfg := config.Get()
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			logger.Error("retrieval: load config %s: %v", *configPath, err)
			os.Exit(1)
		}
	}
	transportCfg := cfg.GetTransportConfig()

	dbManager := database.GetInstance()
	if err := dbManager.Init(*dataDir); err != nil {
		logger.Error("retrieval: init database: %v", err)
		os.Exit(1)
	}
	defer dbManager.Close()

	llmSvc := llm.NewService(cfg)
	if err := llmSvc.Initialize(); err != nil {
		logger.Error("retrieval: init model providers: %v", err)
		os.Exit(1)
	}

	oracleReqAddr := fmt.Sprintf("%s:%d", *oracleAddr, transportCfg.AccessPort)
	preprocessorReqAddr := fmt.Sprintf("%s:%d", *preprocessorAddr, transportCfg.PreprocessReq)
	svc, err := retrieval.Dial(oracleReqAddr, preprocessorReqAddr, dbManager.Repository(), llmSvc, cfg)
	if err != nil {
		logger.Error("retrieval: dial: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	httpAddr := fmt.Sprintf(":%d", transportCfg.RetrievalPort)
	if err := svc.Start(httpAddr); err != nil {
		logger.Error("retrieval: start http %s: %v", httpAddr, err)
		os.Exit(1)
	}

	logger.Info("retrieval agent ready: http=%s oracle=%s preprocessor=%s", httpAddr, oracleReqAddr, preprocessorReqAddr)
	waitForShutdown()
	logger.Info("retrieval agent shutting down")
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
