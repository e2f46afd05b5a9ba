package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"landmarkload/internal/banner"
	"landmarkload/internal/cli"
	"landmarkload/internal/logging"
	"landmarkload/internal/metrics"
	"landmarkload/internal/report"
	"landmarkload/internal/runner"
	"landmarkload/internal/storage"
	"landmarkload/internal/tui"
)

const envPrefix = "LANDMARKLOAD"

var envKeyReplacer = strings.NewReplacer("-", "_")

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "landmarkload",
	Short: "Load test a landmark inference endpoint",
	Long: `
landmarkload drives concurrent simulated users against POST /predict_landmarks
and reports how many requests succeeded, how many failed, and the mean and
max response time of the successful ones.

Every flag can also be set as LANDMARKLOAD_<FLAG> (dashes become underscores)
or in $HOME/.landmarkload.yaml.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoadTest(cmd)
	},
}

func Execute() {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(dummyCmd)
	rootCmd.AddCommand(historyCmd)

	def := runner.DefaultConfig()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.landmarkload.yaml)")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.Bool("pretty", false, "Human readable logs instead of JSON")

	f := rootCmd.Flags()
	f.StringP("url", "u", def.URL, "Target URL")
	f.IntP("users", "U", def.Users, "Number of simulated users")
	f.IntP("requests-per-user", "n", def.RequestsPerUser, "Sequential requests each user sends")
	f.IntP("concurrency", "c", 0, "Max users running at once (0 = all at once)")
	f.Duration("timeout", def.Timeout, "Per-request timeout")
	f.StringP("out", "o", "", "Output filename prefix for CSV/JSON reports")
	f.Bool("tui", false, "Interactive progress display")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	f.String("history-db", "", "Run history database (default is $HOME/.landmarkload/history.db)")
	f.Bool("no-history", false, "Do not record this run in history")

	_ = viper.BindPFlags(pf)
	_ = viper.BindPFlags(f)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".landmarkload")
		}
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "warning: reading config:", err)
		}
	}
}

// configFromViper collects the run settings from flags, env and file.
func configFromViper(v *viper.Viper) runner.Config {
	return runner.Config{
		URL:             v.GetString("url"),
		Users:           v.GetInt("users"),
		RequestsPerUser: v.GetInt("requests-per-user"),
		Concurrency:     v.GetInt("concurrency"),
		Timeout:         v.GetDuration("timeout"),
	}
}

func newLogger(v *viper.Viper, w io.Writer) (zerolog.Logger, error) {
	return logging.New(w, v.GetString("log-level"), v.GetBool("pretty"))
}

func runLoadTest(cmd *cobra.Command) error {
	v := viper.GetViper()

	log, err := newLogger(v, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	interactive := v.GetBool("tui")
	if interactive && log.GetLevel() < zerolog.WarnLevel {
		// Keep log lines from tearing the TUI frame.
		log = log.Level(zerolog.WarnLevel)
	}

	cfg := configFromViper(v)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()
	if addr := v.GetString("metrics-addr"); addr != "" {
		if err := collector.Serve(ctx, addr, log); err != nil {
			return err
		}
	}

	var store *storage.Store
	if !v.GetBool("no-history") {
		store, err = openStore(v.GetString("history-db"))
		if err != nil {
			return err
		}
		defer store.Close()
	}

	opts := []runner.Option{runner.WithLogger(log), runner.WithMetrics(collector)}

	var (
		res    *runner.RunResult
		rep    *report.Report
		runErr error
	)
	if interactive {
		done, err := tui.Run(ctx, cfg, opts...)
		if err != nil {
			return err
		}
		res, rep, runErr = done.Result, done.Report, done.Err
	} else {
		res, rep, runErr = cli.Start(ctx, cmd.OutOrStdout(), cfg, opts...)
	}
	if res == nil || rep == nil {
		return runErr
	}

	if prefix := v.GetString("out"); prefix != "" {
		if err := report.Export(res, rep, prefix); err != nil {
			log.Error().Err(err).Str("prefix", prefix).Msg("export failed")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Reports saved to %s.csv and %s_summary.json\n", prefix, prefix)
		}
	}

	if store != nil {
		if err := store.Save(storage.NewRecord(res, rep)); err != nil {
			log.Error().Err(err).Msg("saving run history failed")
		}
	}

	log.Info().
		Str("run", res.ID).
		Int("successful", rep.Successful).
		Int("failed", rep.Failed()).
		Dur("elapsed", rep.Elapsed.Round(time.Millisecond)).
		Msg("run recorded")

	return runErr
}

func openStore(path string) (*storage.Store, error) {
	if path == "" {
		var err error
		path, err = storage.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("history path: %w", err)
		}
	}
	return storage.Open(path)
}
