package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ad4gd/bioconn/catalogue"
	"github.com/ad4gd/bioconn/metrics"
	"github.com/ad4gd/bioconn/pipeline"
	"github.com/ad4gd/bioconn/storage"
	"github.com/ad4gd/bioconn/utils"
	"github.com/ad4gd/bioconn/worker"
)

// app holds what every command needs once the configuration is loaded.
type app struct {
	v          *viper.Viper
	configFile string
	config     *utils.Config
	exec       worker.Executor
	metrics    metrics.Logger
	cat        *catalogue.Catalogue
	objects    storage.Store
	closers    []func()

	// localFlags maps subcommands to their flag to config key bindings.
	// They are bound only for the command that runs, since viper keeps one
	// flag per key.
	localFlags map[*cobra.Command]map[string]string
}

// bindLocal records flag bindings applied when cmd is the command run.
func (a *app) bindLocal(cmd *cobra.Command, keys map[string]string) {
	if a.localFlags == nil {
		a.localFlags = make(map[*cobra.Command]map[string]string)
	}
	a.localFlags[cmd] = keys
}

func (a *app) load() error {
	config, err := utils.LoadConfig(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.config = config
	if config.Debug {
		log.SetLevel(log.DebugLevel)
	}

	utils.InitGdal()
	a.exec = worker.NewProcess(nil)

	switch dir := config.Metrics.Dir; {
	case dir == "-":
		a.metrics = metrics.NewStdoutLogger()
	case len(dir) > 0:
		fileLogger, err := metrics.NewFileLogger(dir, config.Metrics.MaxLogFileSize, config.Metrics.MaxLogFiles, config.Debug)
		if err != nil {
			return err
		}
		a.metrics = fileLogger
		a.closers = append(a.closers, fileLogger.Close)
	}
	return nil
}

// bindFlags binds command flags to config keys so flags override the file
// and the environment.
func bindFlags(v *viper.Viper, cmd *cobra.Command, persistent bool, keys map[string]string) error {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	for name, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// catalogue opens the statistics catalogue, nil when no DSN is configured.
func (a *app) catalogue() (*catalogue.Catalogue, error) {
	if a.cat != nil || len(a.config.Catalogue.DSN) == 0 {
		return a.cat, nil
	}
	cat, err := catalogue.Open(a.config.Catalogue.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { cat.Close() })
	a.cat = cat
	return cat, nil
}

// store connects to MinIO unless storage.url names a gocloud bucket.
func (a *app) store(ctx context.Context) (storage.Store, error) {
	if a.objects != nil {
		return a.objects, nil
	}
	if url := a.config.Storage.URL; len(url) > 0 {
		store, err := storage.OpenBlobStore(ctx, url)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { store.Close() })
		a.objects = store
		return store, nil
	}
	store, err := storage.NewMinioStore(a.config.Storage)
	if err != nil {
		return nil, err
	}
	a.objects = store
	return store, nil
}

func (a *app) pipeline(caseStudy string, habitats []string) *pipeline.Pipeline {
	p := pipeline.New(caseStudy, habitats)
	p.KeepGoing = a.config.KeepGoing
	p.LogsDir = a.config.LogsDir
	p.Debug = a.config.Debug
	p.Metrics = a.metrics
	return p
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "bioconn",
		Short:        "Landscape connectivity pipeline around Graphab and GDAL",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if keys, ok := a.localFlags[cmd]; ok {
				if err := bindFlags(a.v, cmd, false, keys); err != nil {
					return err
				}
			}
			return a.load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "Config file (default: bioconn.yaml in . or the etc dir)")
	flags.Bool("debug", false, "Enable debug logging")
	flags.Bool("keep-going", false, "Run the remaining steps after a failed one")
	flags.String("data-dir", "data", "Data directory")
	flags.String("config-dir", "config", "Case study config directory")
	flags.String("logs-dir", "logs", "Log directory")
	flags.String("metrics-dir", "", "Metrics directory, '-' for stdout")
	flags.String("catalogue", "", "Statistics catalogue DSN (postgres:// or sqlite file)")
	err := bindFlags(a.v, cmd, true, map[string]string{
		"debug":       "debug",
		"keep-going":  "keep_going",
		"data-dir":    "data_dir",
		"config-dir":  "config_dir",
		"logs-dir":    "logs_dir",
		"metrics-dir": "metrics.dir",
		"catalogue":   "catalogue.dsn",
	})
	if err != nil {
		log.Fatal(err)
	}

	cmd.AddCommand(
		runCmd(a),
		fetchCmd(a),
		impedanceCmd(a),
		graphabCmd(a),
		indicesCmd(a),
		joinCmd(a),
		postprocCmd(a),
		uploadCmd(a),
		paSumCmd(a),
		infoCmd(a),
	)
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, DisableColors: true})
	a := &app{v: viper.New()}
	err := newRootCmd(a).ExecuteContext(ctx)
	a.close()
	if err != nil {
		stop()
		os.Exit(1)
	}
}
