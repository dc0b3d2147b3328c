package cmd

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/adapters/logger"
	"cryptoSignalBot/internal/storage"
)

// environment is what the subcommands share. Tests replace the loaders.
type environment struct {
	loadConfig  func() (*config.Config, error)
	openBackend func(cfg *config.Config) (*storage.Backend, error)
	out         io.Writer
}

func defaultEnvironment() *environment {
	return &environment{
		loadConfig: config.LoadConfig,
		openBackend: func(cfg *config.Config) (*storage.Backend, error) {
			// Operator commands log warnings only so stdout stays parseable.
			cliLogger := logger.New(logger.Config{Level: logrus.WarnLevel, Format: cfg.LogFormat, Output: os.Stderr})
			return storage.Open(cfg, cliLogger.WithComponent("relayctl"))
		},
		out: os.Stdout,
	}
}

// withBackend loads configuration, opens storage and runs fn against it.
func (e *environment) withBackend(fn func(cfg *config.Config, b *storage.Backend) error) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	b, err := e.openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(cfg, b)
}

func newRootCmd(env *environment) *cobra.Command {
	root := &cobra.Command{
		Use:   "relayctl",
		Short: "Operator tooling for the signal relay",
		Long: `relayctl manages the signal relay's users and trade ledger.

It reads the same environment (or .env file) as the server:
  - users   import and list subscribed accounts
  - trades  inspect or export the trade ledger
  - token   mint a bearer token for the admin API
  - signal  post a signal file to a running webhook`,
		SilenceUsage: true,
	}
	root.SetOut(env.out)
	root.AddCommand(
		newUsersCmd(env),
		newTradesCmd(env),
		newTokenCmd(env),
		newSignalCmd(env),
	)
	return root
}

// Execute runs the CLI against the process environment.
func Execute() error {
	return newRootCmd(defaultEnvironment()).Execute()
}
