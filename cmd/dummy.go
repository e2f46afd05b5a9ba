package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"landmarkload/internal/dummy"
)

var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run a mock landmark inference server",
	Long: `Serves POST /predict_landmarks with the same contract as the real
inference service, plus knobs to slow it down or make it fail.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(viper.GetViper(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		var cfg dummy.ServerConfig
		cfg.Port, _ = flags.GetInt("port")
		cfg.Delay, _ = flags.GetDuration("delay")
		cfg.Jitter, _ = flags.GetDuration("jitter")
		cfg.FailEvery, _ = flags.GetInt("fail-every")
		cfg.Unloaded, _ = flags.GetBool("unloaded")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return dummy.Start(ctx, cfg, log)
	},
}

func init() {
	f := dummyCmd.Flags()
	f.IntP("port", "p", 8080, "Port to run dummy server on")
	f.Duration("delay", 0, "Fixed delay added to every prediction")
	f.Duration("jitter", 0, "Random extra delay, up to this much")
	f.Int("fail-every", 0, "Answer 500 on every Nth prediction (0 = never)")
	f.Bool("unloaded", false, "Pretend the model failed to load")
}
