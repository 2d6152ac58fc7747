package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teslashibe/go-oakview/internal/config"
	"github.com/teslashibe/go-oakview/internal/log"
)

// options carries state shared by the subcommands.
type options struct {
	configFile string
	envFile    string
	viper      *viper.Viper
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(&options{})
}

func buildRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "oakview",
		Short: "Live colour, detection and depth view of a stereo camera",
		Long: `oakview connects to a stereo camera, waits for device permission,
starts the detection pipeline once and streams colour, detection-overlay and
depth frames to a desktop window or a web dashboard.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (default is $XDG_CONFIG_HOME/oakview/oakview.yaml)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("backend", "", "device backend: cv or mock")
	flags.String("model", "", "model preset: yolov3, yolov4, yolov5, mobilenet")

	root.AddCommand(newServeCmd(opts), newDesktopCmd(opts), newModelsCmd())
	return root
}

// load reads .env, the config file and the environment, then applies flags.
func (o *options) load(cmd *cobra.Command) error {
	if o.envFile != "" {
		_ = godotenv.Load(o.envFile)
	}

	v, err := config.New(o.configFile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	for key, name := range map[string]string{
		"log.level":      "log-level",
		"device.backend": "backend",
		"model.preset":   "model",
	} {
		if f := flags.Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	log.Init(cfg.Log.Level)
	if used := v.ConfigFileUsed(); used != "" {
		log.Component("config").Debug("config loaded", "file", used)
	}

	o.viper = v
	o.cfg = cfg
	return nil
}
