package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
	"github.com/tendant/simple-portfolio/pkg/portfolio/api"
	"github.com/tendant/simple-portfolio/pkg/portfolio/config"
	"github.com/tendant/simple-portfolio/pkg/portfolio/diff"
	"github.com/tendant/simple-portfolio/pkg/portfolio/gc"
	repopg "github.com/tendant/simple-portfolio/pkg/portfolio/repo/postgres"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long: `Apply the schema for the configured DATABASE_URL. Postgres gets the
embedded SQL schema inside DB_SCHEMA; sqlite is migrated through gorm.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printOnly {
				fmt.Fprint(cmd.OutOrStdout(), repopg.Schema())
				return nil
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dbType, err := cfg.DatabaseType()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			switch dbType {
			case config.DatabasePostgres:
				pool, err := cfg.OpenPostgres(ctx)
				if err != nil {
					return err
				}
				defer pool.Close()
				if cfg.DBSchema != "" {
					if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(cfg.DBSchema)); err != nil {
						return fmt.Errorf("failed to create schema %s: %w", cfg.DBSchema, err)
					}
				}
				if err := repopg.Migrate(ctx, pool); err != nil {
					return err
				}
			case config.DatabaseSQLite:
				rt := &config.Runtime{}
				defer rt.Close()
				if _, err := cfg.BuildRepository(ctx, rt); err != nil {
					return err
				}
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "memory database needs no migration")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", dbType)
			return nil
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "print the postgres schema instead of applying it")
	return cmd
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// NewGCCommand creates the gc command
func NewGCCommand() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete unreferenced assets from storage",
		Long:  `Process one batch of the asset deletion queue and report what happened.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}
			cfg, rt, err := buildRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			if batchSize <= 0 {
				batchSize = cfg.GCBatchSize
			}
			collector, err := gc.New(rt.Repository, rt.BlobStore, gc.WithLogger(loggerFromFlags(cmd)))
			if err != nil {
				return err
			}
			result, err := collector.Run(cmd.Context(), batchSize)
			if err != nil {
				return err
			}
			return p.print(result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "processed=%d deleted=%d skipped_referenced=%d failed=%d\n",
					result.Processed, result.Deleted, result.SkippedReferenced, result.Failed)
				return err
			})
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "maximum queue entries to process (default GC_BATCH_SIZE)")
	return cmd
}

// ownerOf resolves the owner of an item so operator commands run with the
// owner's permissions.
func ownerOf(cmd *cobra.Command, repo portfolio.Repository, raw string) (uuid.UUID, uuid.UUID, error) {
	itemID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid item id %q: %w", raw, err)
	}
	item, err := repo.GetItem(cmd.Context(), itemID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return itemID, item.OwnerID, nil
}

// NewVersionsCommand creates the versions command
func NewVersionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions <item-id>",
		Short: "List the version history of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}
			_, rt, err := buildRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			itemID, owner, err := ownerOf(cmd, rt.Repository, args[0])
			if err != nil {
				return err
			}
			draft, err := rt.Service.GetDraft(cmd.Context(), owner, itemID)
			if err != nil {
				return err
			}
			versions, err := rt.Service.ListVersions(cmd.Context(), owner, itemID)
			if err != nil {
				return err
			}
			return p.print(versions, func(w io.Writer) error {
				return writeVersionTable(w, draft.Item, versions)
			})
		},
	}
	return cmd
}

func writeVersionTable(w io.Writer, item *portfolio.ContentItem, versions []*portfolio.VersionWithCreator) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATUS\tMARK\tCREATED\tAUTHOR\tTITLE")
	for _, v := range versions {
		var marks []string
		if item.CurrentVersionID != nil && *item.CurrentVersionID == v.ID {
			marks = append(marks, "current")
		}
		if item.IsPublishedVersion(v.ID) {
			marks = append(marks, "live")
		}
		author := v.CreatedBy.String()
		if v.Creator != nil && v.Creator.DisplayName != "" {
			author = v.Creator.DisplayName
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			v.VersionNumber, v.SnapshotStatus, strings.Join(marks, ","),
			v.CreatedAt.Format(time.RFC3339), author, v.Title)
	}
	return tw.Flush()
}

// NewDiffCommand creates the diff command
func NewDiffCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <item-id> <from-version> <to-version>",
		Short: "Show a line diff between two versions of an item",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}
			from, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid from version %q", args[1])
			}
			to, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid to version %q", args[2])
			}
			_, rt, err := buildRuntime(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			itemID, owner, err := ownerOf(cmd, rt.Repository, args[0])
			if err != nil {
				return err
			}
			result, err := rt.Service.DiffVersions(cmd.Context(), owner, itemID, from, to)
			if err != nil {
				return err
			}
			return p.print(result, func(w io.Writer) error {
				return writeDiff(w, result)
			})
		},
	}
	return cmd
}

func writeDiff(w io.Writer, result *diff.Result) error {
	for _, line := range result.Lines {
		prefix := " "
		switch line.Type {
		case diff.Added:
			prefix = "+"
		case diff.Removed:
			prefix = "-"
		}
		if _, err := fmt.Fprintf(w, "%s %s\n", prefix, line.Content); err != nil {
			return err
		}
	}
	bar := result.Stats.Bar(api.DiffBarWidth)
	_, err := fmt.Fprintf(w, "\n%d added, %d removed  [%s%s%s]\n",
		result.Stats.Added, result.Stats.Removed,
		strings.Repeat("+", bar.Added), strings.Repeat("-", bar.Removed), strings.Repeat(" ", bar.Neutral))
	return err
}

// NewTokenCommand creates the token command
func NewTokenCommand() *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token for an author",
		Long:  `Sign a bearer token with AUTH_JWT_SECRET whose subject is the author's id.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sub, err := uuid.Parse(subject)
			if err != nil {
				return fmt.Errorf("invalid --sub %q: %w", subject, err)
			}
			token, err := api.IssueToken(api.NewTokenAuth(cfg.AuthJWTSecret), sub, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "sub", "", "author id (uuid)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

// NewEnvCommand creates the env command
func NewEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Describe the supported environment variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.Usage())
			return nil
		},
	}
}
