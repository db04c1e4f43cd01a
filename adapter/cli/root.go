package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/billsync/pkg/observability"
)

var (
	envFile string
	verbose bool
	logger  *slog.Logger

	bootstrap Bootstrap
	release   func()
)

// annotationNoApp marks commands that run without application state.
const annotationNoApp = "billsync/no-app"

// Bootstrap builds the App once flags are parsed. The returned func releases it.
type Bootstrap func(ctx context.Context) (*App, func(), error)

type commandContext struct {
	correlationID string
	startedAt     time.Time
}

type commandContextKey struct{}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "billsync",
	Short: "billsync - billing state synchronization",
	Long: `billsync mirrors billing provider events into subscription, invoice
and payment state, and keeps serving from a local store when the
primary database is unavailable.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logger == nil {
			logger = slog.Default()
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if envFile != "" {
			if err := godotenv.Overload(envFile); err != nil {
				return fmt.Errorf("failed to load env file %s: %w", envFile, err)
			}
		}
		if app == nil && bootstrap != nil && cmd.Annotations[annotationNoApp] == "" {
			a, closeFn, err := bootstrap(ctx)
			if err != nil {
				logger.Warn("application state unavailable", "error", err)
			} else {
				app = a
				release = closeFn
			}
		}
		ctx = observability.WithCorrelationID(ctx, "")
		info := commandContext{
			correlationID: observability.CorrelationIDFromContext(ctx),
			startedAt:     time.Now(),
		}
		cmd.SetContext(context.WithValue(ctx, commandContextKey{}, info))
		logger.Debug("command start",
			"command", cmd.CommandPath(),
			observability.CorrelationIDKey, info.correlationID,
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger == nil {
			logger = slog.Default()
		}
		info, ok := cmd.Context().Value(commandContextKey{}).(commandContext)
		if !ok {
			return
		}
		logger.Debug("command end",
			"command", cmd.CommandPath(),
			observability.CorrelationIDKey, info.correlationID,
			observability.DurationKey, time.Since(info.startedAt).Milliseconds(),
		)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if release != nil {
		release()
		release = nil
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// SetBootstrap registers the function that builds the App before a command runs.
// An App set with SetApp takes precedence.
func SetBootstrap(b Bootstrap) {
	bootstrap = b
}

// Root returns the root command.
func Root() *cobra.Command {
	return rootCmd
}

// SetLogger sets the CLI logger.
func SetLogger(l *slog.Logger) {
	logger = l
}

// EnvFile returns the --env-file flag value.
func EnvFile() string {
	return envFile
}

// Verbose reports whether --verbose was given.
func Verbose() bool {
	return verbose
}
