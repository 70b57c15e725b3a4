package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/helpdesk-session/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Recovered from panic: %v\n", r)
			debug.PrintStack()
			os.Exit(2)
		}
	}()

	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is shared by every subcommand once the root command has loaded the config.
type app struct {
	configPath string
	logLevel   string
	quiet      bool
	cfg        config.Config
	stdin      *bufio.Reader
}

func rootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "helpdesk-session",
		Short:         "Helpdesk session client",
		Long:          "Logs in to a helpdesk backend, keeps the session fresh and calls its API with the stored session.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			configureLogging(firstNonEmpty(a.logLevel, cfg.GetLogLevel()))
			if !a.quiet {
				displayAppname(cfg.GetAppName())
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "Do not print the banner")

	cmd.AddCommand(
		loginCmd(a),
		logoutCmd(a),
		whoamiCmd(a),
		refreshCmd(a),
		getCmd(a),
		canCmd(a),
		watchCmd(a),
	)
	return cmd
}

func configureLogging(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
