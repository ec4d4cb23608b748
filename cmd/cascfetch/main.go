// Command cascfetch resolves and fetches content-addressed game data from a
// CDN origin or a local mirror.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/casckit/casc"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "cascfetch",
		Short: "Resolve and fetch content-addressed game data",
		Long: `cascfetch builds a key-to-location map from archive index files and
retrieves content either through ranged fetches against the owning archive
or directly by key.

Configuration may come from flags, a config file (--config), or CASC_*
environment variables (e.g. CASC_CDN, CASC_ARCHIVES).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(v, cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to config file (yaml)")
	flags.String("cdn", "", "CDN origin base URL")
	flags.StringSlice("archives", nil, "Ordered archive id list")
	flags.String("base-path", "", "Local mirror root (offline mode)")
	flags.String("cache-dir", "", "Directory for downloaded index files (default: user cache dir)")
	flags.Bool("offline", false, "Read indices from the local mirror instead of the CDN")
	flags.BoolP("verbose", "v", false, "Enable debug logging")

	root.AddCommand(newResolveCmd(v))
	root.AddCommand(newFetchCmd(v))
	root.AddCommand(newConfigCmd(v))
	return root
}

func loadConfig(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	v.SetEnvPrefix("CASC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}
	return nil
}

func newResolver(v *viper.Viper) (*casc.Resolver, error) {
	cacheDir := v.GetString("cache-dir")
	if cacheDir == "" {
		userCache, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve cache dir: %w", err)
		}
		cacheDir = filepath.Join(userCache, "cascfetch")
	}

	level := slog.LevelInfo
	if v.GetBool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return casc.New(casc.Settings{
		Archives: v.GetStringSlice("archives"),
		CDNURL:   v.GetString("cdn"),
		BasePath: v.GetString("base-path"),
		CacheDir: cacheDir,
		Online:   !v.GetBool("offline"),
	},
		casc.WithLogger(logger),
		casc.WithProgress(printProgress),
	)
}

// printProgress renders percentage updates on stderr, overwriting in place.
func printProgress(e casc.ProgressEvent) {
	fmt.Fprintf(os.Stderr, "\r%s: %5.1f%%", e.Stage, e.Percent())
	if e.Percent() >= 100 {
		fmt.Fprintln(os.Stderr)
	}
}

func parseKeyArg(arg string) (casc.Key, error) {
	key, err := casc.ParseKey(strings.ToLower(arg))
	if err != nil {
		return casc.Key{}, err
	}
	return key, nil
}

func newResolveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <key>...",
		Short: "Resolve keys to archive locations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newResolver(v)
			if err != nil {
				return err
			}
			if err := r.Initialize(cmd.Context()); err != nil {
				return err
			}
			for _, arg := range args {
				key, err := parseKeyArg(arg)
				if err != nil {
					return err
				}
				entry, ok := r.Lookup(key)
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tnot indexed\n", key)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tarchive=%d\toffset=%d\tsize=%d\n",
					key, entry.Archive, entry.Offset, entry.Size)
			}
			return nil
		},
	}
}

func newFetchCmd(v *viper.Viper) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "fetch <key>",
		Short: "Fetch the content for a key",
		Long: `Fetch looks the key up in the location map and issues a ranged fetch
against the owning archive. A key with no index entry is fetched directly
from the origin by its own address.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKeyArg(args[0])
			if err != nil {
				return err
			}
			r, err := newResolver(v)
			if err != nil {
				return err
			}
			if err := r.Initialize(cmd.Context()); err != nil {
				return err
			}
			rc, err := r.Open(cmd.Context(), key)
			if err != nil {
				return err
			}
			defer rc.Close()
			return writeOutput(cmd, output, rc)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write content to file instead of stdout")
	return cmd
}

func newConfigCmd(v *viper.Viper) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "config <key>",
		Short: "Fetch a config blob by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKeyArg(args[0])
			if err != nil {
				return err
			}
			r, err := newResolver(v)
			if err != nil {
				return err
			}
			data, err := r.FetchConfig(cmd.Context(), key)
			if err != nil {
				return err
			}
			return writeOutput(cmd, output, bytes.NewReader(data))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write content to file instead of stdout")
	return cmd
}

func writeOutput(cmd *cobra.Command, path string, r io.Reader) error {
	if path == "" {
		_, err := io.Copy(cmd.OutOrStdout(), r)
		return err
	}
	f, err := os.Create(path) //nolint:gosec // destination is chosen by the operator
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
