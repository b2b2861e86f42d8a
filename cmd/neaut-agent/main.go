package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0xDVC/neaut/internal/agent"
	"github.com/0xDVC/neaut/internal/config"
	"github.com/0xDVC/neaut/internal/document"
	"github.com/0xDVC/neaut/internal/logging"
	"github.com/0xDVC/neaut/internal/notes"
	"github.com/0xDVC/neaut/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	noteID  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "neaut-agent",
		Short: "Neaut local sync agent",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&noteID, "note", "", "Note to open and follow")
	cmd.PersistentFlags().String("relay-url", defaults.GetString("relay.url"), "Relay websocket URL (empty disables sync)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("user-id", defaults.GetString("user.id"), "Identity broadcast to collaborators")
	cmd.PersistentFlags().String("user-name", defaults.GetString("user.name"), "Display name broadcast to collaborators")

	bindFlag(cmd, "relay.url", "relay-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "user.id", "user-id")
	bindFlag(cmd, "user.name", "user-name")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runAgent(ctx context.Context) error {
	agentConfig, err := config.LoadAgent(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(agentConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := store.OpenSQLite(agentConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	noteStore, err := store.New(store.Config{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	documents := document.NewManager(document.ManagerConfig{Logger: logger})

	syncAgent, err := agent.New(agent.Config{
		Store:       noteStore,
		Documents:   documents,
		Dialer:      agent.NewWebsocketDialer(),
		RelayURL:    agentConfig.RelayURL,
		UserID:      agentConfig.UserID,
		UserName:    agentConfig.UserName,
		BaseDelay:   agentConfig.BaseDelay,
		MaxAttempts: agentConfig.MaxAttempts,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer syncAgent.Close()

	cancelFeed := syncAgent.Subscribe(func(event agent.Event) {
		switch event.Type {
		case agent.EventSyncStatus:
			logger.Info("sync status changed", zap.String("status", string(event.Status)))
		case agent.EventNoteUpdated:
			logger.Info("note updated", zap.String("note_id", event.NoteID))
		case agent.EventNoteDeleted:
			logger.Info("note deleted", zap.String("note_id", event.NoteID))
		}
	})
	defer cancelFeed()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if agentConfig.SyncEnabled() {
		if err := syncAgent.Connect(signalCtx); err != nil {
			logger.Warn("initial connection failed, retrying in background", zap.Error(err))
		}
	}

	if noteID != "" {
		id, err := notes.NewNoteID(noteID)
		if err != nil {
			return err
		}
		note, err := syncAgent.LoadOrCreate(signalCtx, id)
		if err != nil {
			return err
		}
		if _, err := documents.Open(id, note.Content); err != nil {
			return err
		}
		if err := syncAgent.JoinNote(signalCtx, id); err != nil {
			return err
		}
		logger.Info("following note",
			zap.String("note_id", id.String()),
			zap.String("title", note.Title()))
	}

	<-signalCtx.Done()
	logger.Info("shutting down")
	return nil
}
