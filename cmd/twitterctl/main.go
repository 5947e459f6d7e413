// Twitterctl runs the timeline engine once from the command line, against
// the same cache the server uses.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/xiaobinji/RSSHub/internal/app"
	"github.com/xiaobinji/RSSHub/internal/twitter"
	"github.com/xiaobinji/RSSHub/logger"
)

var (
	flagCount   int
	flagVerbose bool

	// Built in the root command's PersistentPreRunE
	application *app.App
)

var rootCmd = &cobra.Command{
	Use:          "twitterctl",
	Short:        "Fetch timelines and manage the timeline cache",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var cfg app.Config
		if err := envconfig.Process(cmd.Context(), &cfg); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}

		level := slog.LevelWarn
		if flagVerbose {
			level = slog.LevelDebug
		}
		handler, err := logger.New("console", level, os.Stderr)
		if err != nil {
			return err
		}
		slog.SetDefault(slog.New(handler))

		a, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("building app: %w", err)
		}
		application = a

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if application == nil {
			return nil
		}
		return application.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().IntVar(&flagCount, "count", 0, "number of tweets to return (default: page size)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log debug output to stderr")
	homeCmd.Flags().BoolVar(&flagLatest, "latest", false, "use the Following timeline instead of For you")

	rootCmd.AddCommand(
		timelineCmd("user <handle>", "Merged timeline of an account", func(ctx context.Context, arg string, p twitter.Params) ([]twitter.Item, error) {
			return application.Timelines.UserTimeline(ctx, arg, p)
		}),
		timelineCmd("media <handle>", "Media posted by an account", func(ctx context.Context, arg string, p twitter.Params) ([]twitter.Item, error) {
			return application.Timelines.UserMedia(ctx, arg, p)
		}),
		timelineCmd("likes <handle>", "Tweets an account liked", func(ctx context.Context, arg string, p twitter.Params) ([]twitter.Item, error) {
			return application.Timelines.UserLikes(ctx, arg, p)
		}),
		timelineCmd("search <query>", "Latest tweets matching a query", func(ctx context.Context, arg string, p twitter.Params) ([]twitter.Item, error) {
			return application.Timelines.Search(ctx, arg, p)
		}),
		timelineCmd("list <list id>", "Latest tweets of a list", func(ctx context.Context, arg string, p twitter.Params) ([]twitter.Item, error) {
			return application.Timelines.List(ctx, arg, p)
		}),
		homeCmd,
		tweetCmd,
		purgeCmd,
	)
}

func timelineCmd(use, short string, fetch func(ctx context.Context, arg string, p twitter.Params) ([]twitter.Item, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := fetch(cmd.Context(), args[0], twitter.Params{Count: flagCount})
			if err != nil {
				return err
			}
			return printJSON(items)
		},
	}
}

var flagLatest bool

var homeCmd = &cobra.Command{
	Use:   "home",
	Short: "Home timeline of the configured session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fetch := application.Timelines.Home
		if flagLatest {
			fetch = application.Timelines.HomeLatest
		}

		items, err := fetch(cmd.Context(), twitter.Params{Count: flagCount})
		if err != nil {
			return err
		}
		return printJSON(items)
	},
}

var tweetCmd = &cobra.Command{
	Use:   "tweet <handle> <status id>",
	Short: "The part of a thread an account wrote",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := twitter.ParseID(args[1])
		if err != nil {
			return err
		}

		items, err := application.Timelines.Tweet(cmd.Context(), args[0], status)
		if err != nil {
			return err
		}
		return printJSON(items)
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge <handle>",
	Short: "Forget the cached identity and timeline of an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := application.Timelines.Purge(cmd.Context(), args[0]); err != nil {
			return err
		}

		fmt.Printf("Purged %s.\n", args[0])
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
