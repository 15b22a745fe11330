package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tendant/simple-portfolio/pkg/portfolio/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	var output string
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "portfolioctl",
		Short: "Operate a portfolio content store",
		Long: `portfolioctl runs maintenance tasks against the portfolio database and
media storage configured through the same environment as the server
(DATABASE_URL, STORAGE_URL, ...). Run "portfolioctl env" for the full list.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().String("database-url", "", "override DATABASE_URL")

	rootCmd.AddCommand(NewMigrateCommand())
	rootCmd.AddCommand(NewGCCommand())
	rootCmd.AddCommand(NewVersionsCommand())
	rootCmd.AddCommand(NewDiffCommand())
	rootCmd.AddCommand(NewTokenCommand())
	rootCmd.AddCommand(NewEnvCommand())

	return rootCmd
}

func loggerFromFlags(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func loadConfig(cmd *cobra.Command) (*config.ServerConfig, error) {
	opts := []config.Option{config.WithDotEnv(), config.WithEnv()}
	if dbURL, _ := cmd.Flags().GetString("database-url"); dbURL != "" {
		opts = append(opts, config.WithDatabaseURL(dbURL))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func buildRuntime(ctx context.Context, cmd *cobra.Command) (*config.ServerConfig, *config.Runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	rt, err := cfg.BuildService(ctx, loggerFromFlags(cmd))
	if err != nil {
		return nil, nil, err
	}
	return cfg, rt, nil
}

// printer renders command results as text, JSON or YAML.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(cmd *cobra.Command) (*printer, error) {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "text", "json", "yaml":
		return &printer{format: format, w: cmd.OutOrStdout()}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// print writes v as JSON or YAML, or calls text for the text format.
func (p *printer) print(v interface{}, text func(w io.Writer) error) error {
	switch p.format {
	case "json":
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// Round-trip through JSON so keys follow the json tags.
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(p.w)
	}
}
