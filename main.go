package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"

	"signalengine/src/database"
	"signalengine/src/dispatcher"
	"signalengine/src/engine"
	"signalengine/src/notifier"
	"signalengine/src/pricing"
	"signalengine/src/repository"
	"signalengine/src/server"
	"signalengine/src/watcher"
)

var APP_NAME = os.Getenv("APP_NAME")

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.DebugLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()
	defer handlePanic()

	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	// price feed for signal watchers
	stream := pricing.NewStream(pricing.GetConfig())
	go stream.Run(ctx)
	prices := pricing.NewSource(stream)

	// notification outbox and delivery loop
	notificationRepo := repository.NewNotificationRepository()
	userRepo := repository.NewUserRepository()
	notifierConfig := notifier.GetConfig()
	outbox := notifier.NewOutbox(notificationRepo)
	sender := notifier.NewSender(
		notificationRepo,
		userRepo,
		notifier.NewTelegram(notifierConfig.BotToken),
		notifierConfig,
	)
	go sender.Run(ctx)

	// watcher fleet and fan-out
	signalRepo := repository.NewSignalRepository()
	userSignalRepo := repository.NewUserSignalRepository()
	apiKeyRepo := repository.NewApiKeyRepository()

	eng := engine.New(signalRepo, userSignalRepo, apiKeyRepo, outbox, prices, watcher.GetConfig())

	disp := dispatcher.New(
		signalRepo,
		userRepo,
		apiKeyRepo,
		userSignalRepo,
		eng,
		dispatcher.GetConfig(),
	)

	// rebuild watchers for whatever the previous run left open, then keep
	// fanning out; the registry keeps the two paths from double-launching
	eng.ResumePositions(ctx)
	go disp.Run(ctx)

	server.StartServer(ctx, server.GetConfig().Port, eng.Registry())

	eng.Wait()
	logger.Info("Engine stopped")
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
	//nolint
	time.Sleep(time.Second * 5)
}
