// Command postprocessor runs the Postprocessor component: fourth in the
// dependency order, after the Preprocessor it pulls extracted documents
// from and the Mailbox it dispatches notifications to.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"docindex/pkg/config"
	"docindex/pkg/database"
	"docindex/pkg/llm"
	"docindex/pkg/logger"
	"docindex/pkg/postprocessor"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (defaults omitted values)")
	dataDir := flag.String("data-dir", "./data", "directory for the shared sqlite database")
	preprocessorAddr := flag.String("preprocessor-addr", "localhost", "host the preprocessor's push socket is bound on")
	mailboxAddr := flag.String("mailbox-addr", "localhost", "host the mailbox's reply socket is bound on")
	kafkaEnabled := flag.Bool("kafka-trace", false, "mirror notification-dispatch trace events to Kafka")
	kafkaBrokers := flag.String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses for trace events")
	kafkaTopic := flag.String("kafka-topic", "docindex.notifications", "Kafka topic for notification-dispatch trace events")
	flag.Parse()

	if err := logger.Initialize(logger.Config{
		Level:         logger.INFO,
		LogDir:        "logs",
		FileName:      "postprocessor.log",
		ConsoleOutput: true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "postprocessor: failed to initialize logger: %v\n", err)
	}
	defer logger.GetDefault().Close()

	cfg := config.Get()
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			logger.Error("postprocessor: load config %s: %v", *configPath, err)
			os.Exit(1)
		}
	}
	transportCfg := cfg.GetTransportConfig()

	dbManager := database.GetInstance()
	if err := dbManager.Init(*dataDir); err != nil {
		logger.Error("postprocessor: init database: %v", err)
		os.Exit(1)
	}
	defer dbManager.Close()

	llmSvc := llm.NewService(cfg)
	if err := llmSvc.Initialize(); err != nil {
		logger.Error("postprocessor: init model providers: %v", err)
		os.Exit(1)
	}

	preprocessorPushAddr := fmt.Sprintf("%s:%d", *preprocessorAddr, transportCfg.PreprocessIn)
	mailboxReqAddr := fmt.Sprintf("%s:%d", *mailboxAddr, transportCfg.MailboxPort)
	svc, err := postprocessor.Dial(preprocessorPushAddr, mailboxReqAddr, dbManager.Repository(), llmSvc, cfg)
	if err != nil {
		logger.Error("postprocessor: dial: %v", err)
		os.Exit(1)
	}
	defer svc.Stop()

	traceWriter, err := logger.NewKafkaWriter(logger.Config{
		KafkaEnabled: *kafkaEnabled,
		KafkaBrokers: strings.Split(*kafkaBrokers, ","),
		KafkaTopic:   *kafkaTopic,
	})
	if err != nil {
		logger.Error("postprocessor: kafka trace writer: %v", err)
		os.Exit(1)
	}
	defer traceWriter.Close()
	svc.SetTraceWriter(traceWriter)

	svc.Start()
	logger.Info("postprocessor ready: preprocessor=%s mailbox=%s", preprocessorPushAddr, mailboxReqAddr)
	waitForShutdown()
	logger.Info("postprocessor shutting down")
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
