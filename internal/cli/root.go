package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/yungbote/modmon/internal/app"
	types "github.com/yungbote/modmon/internal/domain"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
)

type rootOptions struct {
	configFile string
	verbose    bool
	version    VersionInfo
}

// NewRootCommand creates the modmon command tree.
func NewRootCommand(versionInfo VersionInfo) *cobra.Command {
	opts := &rootOptions{version: versionInfo}
	rootCmd := &cobra.Command{
		Use:   "modmon",
		Short: "Model performance monitor",
		Long: `modmon registers versions of analysts' models, runs their score, predict and
retrain commands against datasets, and records the results in the store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to configuration file (default ./modmon.yaml or ~/.modmon/modmon.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging and SQL statement logging")

	rootCmd.AddCommand(
		newRunCommand(opts, types.CommandScore),
		newRunCommand(opts, types.CommandPredict),
		newRunCommand(opts, types.CommandRetrain),
		newSetupCommand(opts),
		newCheckCommand(opts),
		newReproCommand(opts),
		newDBCommand(opts),
		newStorageCommand(opts),
		newEnvsCommand(opts),
		NewVersionCommand(versionInfo),
	)
	return rootCmd
}

// withApp loads configuration, builds the application, runs fn and closes
// the application again.
func (o *rootOptions) withApp(cmd *cobra.Command, appOpts app.Options, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := app.LoadConfig(o.configFile)
	if err != nil {
		return err
	}
	if o.verbose {
		cfg.Log.Mode = "development"
		cfg.Database.Verbose = true
	}
	appOpts.Version = o.version.Version

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg, appOpts)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

// ExitCode maps a command error onto the process exit status.
func ExitCode(err error) int {
	switch apperr.Classify(err) {
	case "":
		return 0
	case apperr.KindConfiguration:
		return 2
	case apperr.KindCanceled:
		return 130
	default:
		return 1
	}
}
