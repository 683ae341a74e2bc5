// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/thumbor-attrs/internal/config"
	"github.com/xkilldash9x/thumbor-attrs/internal/observability"
)

// envPrefix namespaces environment overrides, e.g. THUMBOR_ATTRS_THUMBOR_SERVER_URL.
const envPrefix = "THUMBOR_ATTRS"

// app carries state shared by the subcommands of one root command.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

// newRootCmd builds the command tree. Each call gets its own viper instance.
func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "thumbor-attrs",
		Short:         "Rewrites thumbor-annotated HTML into sized, signed image service URLs.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initializeConfig(); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "thumbor-attrs"})
				return err
			}
			observability.InitializeLogger(a.cfg.Logger())
			observability.GetLogger().Debug("Starting thumbor-attrs", zap.String("version", Version))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newRewriteCmd(a), newWatchCmd(a), newVersionCmd())
	return rootCmd
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		observability.Sync()
		os.Exit(1)
	}
	observability.Sync()
}

// initializeConfig reads the config file and environment into a.cfg.
func (a *app) initializeConfig() error {
	config.SetDefaults(a.v)

	if a.cfgFile != "" {
		path, err := homedir.Expand(a.cfgFile)
		if err != nil {
			return fmt.Errorf("error expanding config path: %w", err)
		}
		a.v.SetConfigFile(path)
	} else {
		a.v.AddConfigPath(".")
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
	}

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment apply.
	}

	cfg, err := config.NewConfigFromViper(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}
