package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/encoding/charmap"

	"github.com/gyeh/claimcheck/internal/config"
	"github.com/gyeh/claimcheck/internal/logging"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	settings *config.Settings
	logger   *slog.Logger
	codePage *charmap.Charmap

	envFile   string
	logLevel  string
	logFormat string
	cpName    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "claimcheck",
		Short:         "Validate and patch legacy fixed-record claim tables",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Optional .env file with CLAIMCHECK_* settings")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from CLAIMCHECK_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().StringVar(&a.cpName, "code-page", "", "Force the text code page (cp437, cp850, cp852, cp866, win1250, win1251, win1252)")

	rootCmd.AddCommand(newSchemaCmd(a))
	rootCmd.AddCommand(newDumpCmd(a))
	rootCmd.AddCommand(newValidateCmd(a))
	rootCmd.AddCommand(newUpdateCmd(a))
	rootCmd.AddCommand(newDeleteCmd(a))
	rootCmd.AddCommand(newNPICmd(a))

	return rootCmd
}

func (a *app) init(cmd *cobra.Command) error {
	settings, err := config.Load(a.envFile)
	if err != nil {
		return err
	}
	a.settings = settings

	level := a.logLevel
	if level == "" {
		level = settings.LogLevel
	}
	a.logger, err = logging.New(cmd.ErrOrStderr(), level, a.logFormat)
	if err != nil {
		return err
	}

	if a.cpName != "" {
		a.codePage, err = codePageByName(a.cpName)
		if err != nil {
			return err
		}
	}
	return nil
}

var codePages = map[string]*charmap.Charmap{
	"cp437":   charmap.CodePage437,
	"cp850":   charmap.CodePage850,
	"cp852":   charmap.CodePage852,
	"cp866":   charmap.CodePage866,
	"win1250": charmap.Windows1250,
	"win1251": charmap.Windows1251,
	"win1252": charmap.Windows1252,
}

func codePageByName(name string) (*charmap.Charmap, error) {
	key := strings.ToLower(strings.NewReplacer("-", "", "_", "", "windows", "win").Replace(strings.TrimSpace(name)))
	if cm, ok := codePages[key]; ok {
		return cm, nil
	}
	return nil, fmt.Errorf("unknown code page %q", name)
}
