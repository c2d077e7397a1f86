package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/g-sync/gsync/internal/bluesky"
	"github.com/g-sync/gsync/internal/records"
	"github.com/g-sync/gsync/internal/review"
	"github.com/g-sync/gsync/internal/server"
)

const (
	commandUse                    = "server <dataset-file>"
	commandShortDescription       = "Serve the follow review page over HTTP"
	envPrefix                     = "GSYNC_SERVER"
	flagHostName                  = "host"
	flagHostDescription           = "Host interface for the HTTP server"
	flagPortName                  = "port"
	flagPortDescription           = "Port for the HTTP server"
	flagServiceURLName            = "service-url"
	flagServiceURLDescription     = "Base URL of the Bluesky XRPC service"
	flagConcurrencyName           = "follow-concurrency"
	flagConcurrencyDescription    = "Concurrent follow requests during follow-all"
	defaultHost                   = "127.0.0.1"
	defaultPort                   = 8080
	errMessageLoggerCreate        = "create logger"
	errMessageStoreCreate         = "open dataset"
	errMessageClientCreate        = "create bluesky client"
	errMessageListenAndServe      = "listen and serve"
	logMessageLoadedDataset       = "loaded dataset"
	logMessageStartingServer      = "starting HTTP server"
	logMessageServerStopped       = "server stopped"
	logMessageListenError         = "server listen failure"
	logFieldAddress               = "address"
	logFieldDatasetFile           = "file"
	logFieldRecordCount           = "records"
)

func main() {
	cobra.CheckErr(newServerCommand().Execute())
}

func newServerCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   commandUse,
		Short: commandShortDescription,
		Args:  cobra.ExactArgs(1),
		RunE:  runServerCommand,
	}

	command.Flags().String(flagHostName, defaultHost, flagHostDescription)
	command.Flags().Int(flagPortName, defaultPort, flagPortDescription)
	command.Flags().String(flagServiceURLName, "", flagServiceURLDescription)
	command.Flags().Int(flagConcurrencyName, review.DefaultFollowConcurrency, flagConcurrencyDescription)

	bindFlagToViper(command, flagHostName)
	bindFlagToViper(command, flagPortName)
	bindFlagToViper(command, flagServiceURLName)
	bindFlagToViper(command, flagConcurrencyName)

	cobra.OnInitialize(configureEnvironment)

	return command
}

func bindFlagToViper(command *cobra.Command, flagName string) {
	cobra.CheckErr(viper.BindPFlag(flagName, command.Flags().Lookup(flagName)))
}

func configureEnvironment() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func runServerCommand(_ *cobra.Command, arguments []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageLoggerCreate, err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	datasetPath := arguments[0]
	store, storeErr := records.NewStore(datasetPath)
	if storeErr != nil {
		return fmt.Errorf("%s: %w", errMessageStoreCreate, storeErr)
	}
	dataset := store.Snapshot()
	logger.Info(logMessageLoadedDataset,
		zap.String(logFieldDatasetFile, dataset.File),
		zap.Int(logFieldRecordCount, len(dataset.Data)),
	)

	blueskyClient, clientErr := bluesky.NewClient(bluesky.Config{
		ServiceURL: viper.GetString(flagServiceURLName),
	})
	if clientErr != nil {
		return fmt.Errorf("%s: %w", errMessageClientCreate, clientErr)
	}

	reviewSession := review.NewSession(review.SessionConfig{
		File:              dataset.File,
		Records:           dataset.Data,
		Authenticator:     blueskyClient,
		Resolver:          review.NewResolver(blueskyClient),
		Executor:          review.NewExecutor(blueskyClient),
		Replacer:          store,
		Logger:            logger,
		FollowConcurrency: viper.GetInt(flagConcurrencyName),
	})

	router, routerErr := server.NewRouter(server.RouterConfig{
		Store:   store,
		Session: reviewSession,
		Logger:  logger,
	})
	if routerErr != nil {
		return routerErr
	}

	host := viper.GetString(flagHostName)
	port := viper.GetInt(flagPortName)
	address := fmt.Sprintf("%s:%d", host, port)
	logger.Info(logMessageStartingServer, zap.String(logFieldAddress, address))

	httpServer := &http.Server{Addr: address, Handler: router}
	if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
		logger.Error(logMessageListenError, zap.Error(listenErr))
		return fmt.Errorf("%s: %w", errMessageListenAndServe, listenErr)
	}

	logger.Info(logMessageServerStopped)
	return nil
}
