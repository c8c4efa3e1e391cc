package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-trusted-pki/pkg/builder"
	"github.com/jeremyhahn/go-trusted-pki/pkg/logging"
	"github.com/jeremyhahn/go-trusted-pki/pkg/metrics"
	"github.com/jeremyhahn/go-trusted-pki/pkg/pki"
	"github.com/jeremyhahn/go-trusted-pki/pkg/store/certstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const (
	Name      = "trusted-pki"
	EnvPrefix = "TRUSTED_PKI"

	DEFAULT_GROUP     = "default"
	DEFAULT_LOG_LEVEL = "info"
)

var Version = "0.0.1"

// App holds the application configuration and the services built from
// it: the logger, the metrics registry and the group certificate store.
type App struct {
	ConfigDir     string   `yaml:"config-dir" json:"config_dir" mapstructure:"config-dir"`
	Debug         bool     `yaml:"debug" json:"debug" mapstructure:"debug"`
	Defaults      Defaults `yaml:"defaults" json:"defaults" mapstructure:"defaults"`
	Group         string   `yaml:"group" json:"group" mapstructure:"group"`
	Home          string   `yaml:"home" json:"home" mapstructure:"home"`
	LogDir        string   `yaml:"log-dir" json:"log_dir" mapstructure:"log-dir"`
	LogLevel      string   `yaml:"log-level" json:"log_level" mapstructure:"log-level"`
	StorePassword string   `yaml:"store-password" json:"-" mapstructure:"store-password"`

	Fs       afero.Fs             `yaml:"-" json:"-" mapstructure:"-"`
	Logger   *logging.Logger      `yaml:"-" json:"-" mapstructure:"-"`
	Metrics  *metrics.Metrics     `yaml:"-" json:"-" mapstructure:"-"`
	Registry *prometheus.Registry `yaml:"-" json:"-" mapstructure:"-"`
	Store    certstore.Store      `yaml:"-" json:"-" mapstructure:"-"`

	configFile string
	logFile    afero.File
	password   pki.PasswordSource
	viper      *viper.Viper
}

// AppInitParams carries command line overrides. Zero values leave the
// configured value in place.
type AppInitParams struct {
	ConfigDir     string
	Debug         bool
	Group         string
	Home          string
	LogDir        string
	LogLevel      string
	StorePassword string

	// Consulted for the store password when neither the configuration
	// nor the command line provide one
	PasswordPrompt pki.PasswordSource

	// Defaults to the OS file system
	Fs afero.Fs
}

func NewApp() *App {
	return new(App)
}

// Loads the configuration and opens the logger, metrics registry and
// store of the configured group.
func (app *App) Init(initParams *AppInitParams) (*App, error) {
	if initParams == nil {
		initParams = &AppInitParams{}
	}
	app.Fs = initParams.Fs
	if app.Fs == nil {
		app.Fs = afero.NewOsFs()
	}
	app.ConfigDir = initParams.ConfigDir
	if err := app.initConfig(); err != nil {
		return nil, err
	}
	app.override(initParams)
	if err := app.initLogger(); err != nil {
		return nil, err
	}
	if err := app.initMetrics(); err != nil {
		return nil, err
	}
	if err := app.initStore(initParams.PasswordPrompt); err != nil {
		return nil, err
	}
	return app, nil
}

// Reads config.yaml from the config directory, $HOME/.trusted-pki or the
// working directory. A missing file is not an error. Environment
// variables prefixed with TRUSTED_PKI_ override file values.
func (app *App) initConfig() error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if app.ConfigDir != "" {
		v.AddConfigPath(app.ConfigDir)
	}
	v.AddConfigPath(fmt.Sprintf("$HOME/.%s/", Name))
	v.AddConfigPath(".")
	v.SetFs(app.Fs)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("app: reading configuration: %w", err)
		}
	}
	if err := v.Unmarshal(app); err != nil {
		return fmt.Errorf("app: decoding configuration: %w", err)
	}
	app.viper = v
	app.configFile = v.ConfigFileUsed()
	return nil
}

// Every key needs a default for AutomaticEnv to reach it on Unmarshal
func setDefaults(v *viper.Viper) {
	home := filepath.Join(".", "trusted-data")
	if dir, err := os.UserHomeDir(); err == nil {
		home = filepath.Join(dir, "."+Name, "data")
	}
	v.SetDefault("home", home)
	v.SetDefault("group", DEFAULT_GROUP)
	v.SetDefault("store-password", "")
	v.SetDefault("log-dir", "")
	v.SetDefault("log-level", DEFAULT_LOG_LEVEL)
	v.SetDefault("debug", false)
	v.SetDefault("defaults.key-algorithm", "")
	v.SetDefault("defaults.rsa-key-size", 0)
	v.SetDefault("defaults.curve", "")
	v.SetDefault("defaults.hash", "")
	v.SetDefault("defaults.pbe-iterations", 0)
}

func (app *App) override(initParams *AppInitParams) {
	if initParams.Debug {
		app.Debug = true
	}
	if initParams.Group != "" {
		app.Group = initParams.Group
	}
	if initParams.Home != "" {
		app.Home = initParams.Home
	}
	if initParams.LogDir != "" {
		app.LogDir = initParams.LogDir
	}
	if initParams.LogLevel != "" {
		app.LogLevel = initParams.LogLevel
	}
	if initParams.StorePassword != "" {
		app.StorePassword = initParams.StorePassword
	}
	if app.LogDir == "" {
		app.LogDir = filepath.Join(app.Home, "log")
	}
}

// Opens <log-dir>/trusted-pki.log for appending. Debug mode also logs
// to stdout.
func (app *App) initLogger() error {
	level := logging.ParseLevel(app.LogLevel)
	if app.Debug {
		level = slog.LevelDebug
	}
	if err := app.Fs.MkdirAll(app.LogDir, os.ModePerm); err != nil {
		return fmt.Errorf("app: creating log directory: %w", err)
	}
	logFile := filepath.Join(app.LogDir, Name+".log")
	f, err := app.Fs.OpenFile(logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("app: opening log file: %w", err)
	}
	app.logFile = f
	app.Logger = logging.NewLogger(level, f)
	if app.Debug {
		app.Logger.Debug("Starting logger in debug mode...")
		for k, v := range app.viper.AllSettings() {
			if strings.Contains(k, "password") {
				continue
			}
			app.Logger.Debugf("%s: %+v", k, v)
		}
	}
	if app.configFile != "" {
		app.Logger.Infof("Using configuration file: %s", app.configFile)
	}
	return nil
}

func (app *App) initMetrics() error {
	app.Registry = prometheus.NewRegistry()
	m, err := metrics.New(app.Registry)
	if err != nil {
		return err
	}
	app.Metrics = m
	return nil
}

// Opens the own store of the configured group. The store is shared by
// every builder and wrapped for concurrent use.
func (app *App) initStore(prompt pki.PasswordSource) error {
	app.password = app.storePassword(prompt)
	pbe := pki.DefaultPBEOptions()
	if app.Defaults.PBEIterations > 0 {
		pbe.Iterations = app.Defaults.PBEIterations
	}
	store, err := certstore.OpenGroup(&certstore.Params{
		Logger:   app.Logger,
		Fs:       app.Fs,
		RootDir:  app.Home,
		Password: app.password,
		PBE:      pbe,
		Metrics:  app.Metrics,
	}, app.Group)
	if err != nil {
		return err
	}
	app.Logger.Debug("app: opened group store",
		"group", app.Group,
		"dir", store.RootDir())
	app.Store = certstore.NewSynchronized(store)
	return nil
}

// The configured password wins over the prompt. The prompt is asked at
// most once.
func (app *App) storePassword(prompt pki.PasswordSource) pki.PasswordSource {
	if app.StorePassword != "" {
		return pki.Password(app.StorePassword)
	}
	if prompt == nil {
		return pki.NoPassword
	}
	var (
		once     sync.Once
		password []byte
	)
	return pki.PasswordFunc(func() ([]byte, bool) {
		once.Do(func() {
			password = pki.PasswordFrom(prompt)
		})
		return password, len(password) > 0
	})
}

// Returns the password protecting keys in the group store
func (app *App) Password() pki.PasswordSource {
	if app.password == nil {
		return pki.NoPassword
	}
	return app.password
}

// Returns builder parameters wired to the application services
func (app *App) BuilderParams() *builder.Params {
	return &builder.Params{
		Logger:  app.Logger,
		Fs:      app.Fs,
		Metrics: app.Metrics,
		Store:   app.Store,
	}
}

func (app *App) ConfigFileUsed() string {
	return app.configFile
}

func (app *App) Close() error {
	if app.logFile == nil {
		return nil
	}
	err := app.logFile.Close()
	app.logFile = nil
	return err
}
