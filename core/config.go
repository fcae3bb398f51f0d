package core

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host            string
		DebugHost       string
		ShutdownTimeout time.Duration
		DisableReqLogs  bool
	}

	DatabaseConfig struct {
		Engine        string // postgres | sqlite3
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		Path          string // sqlite3 file path (or ":memory:")
	}

	PlacementConfig struct {
		MaxAttempts   int
		RetryInterval time.Duration
	}

	JobsConfig struct {
		LeaseTTL    time.Duration
		Concurrency int
	}

	Config struct {
		Env          string
		Build        string
		Debug        bool
		TestMode     bool
		WorkDir      string
		RollbarToken string
		PlanFile     string

		Server    ServerConfig
		Database  DatabaseConfig
		Placement PlacementConfig
		Jobs      JobsConfig

		// Viper is kept around for sub-loaders (eg. the compensation plan).
		Viper *viper.Viper
	}
)

func (d DatabaseConfig) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "develop")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("planFile", "")

	v.SetDefault("server.host", ":8080")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.disableReqLogs", false)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "downline")
	v.SetDefault("database.user", "downline")
	v.SetDefault("database.password", "")
	v.SetDefault("database.adminUser", "")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.path", "downline.db")

	v.SetDefault("placement.maxAttempts", 5)
	v.SetDefault("placement.retryInterval", 10*time.Millisecond)

	v.SetDefault("jobs.leaseTTL", 10*time.Minute)
	v.SetDefault("jobs.concurrency", 8)
}

// NewConfig builds the app Config from defaults, the optional `config/.env.<env>` file and the environment.
// ENV selects the environment: DEV (local; default), TEST, QA, PROD.
// Environment variables are prefixed with the env name, eg. `DEV_DATABASE_HOST`.
func NewConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	case "PROD":
		v.SetDefault("debug", false)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "getting working directory")
	}

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat %s", dotEnvPath)
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:          env,
		Build:        v.GetString("build"),
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		WorkDir:      wd,
		RollbarToken: v.GetString("rollbarToken"),
		PlanFile:     v.GetString("planFile"),
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			DebugHost:       v.GetString("server.debugHost"),
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
			DisableReqLogs:  v.GetBool("server.disableReqLogs"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			Path:          v.GetString("database.path"),
		},
		Placement: PlacementConfig{
			MaxAttempts:   v.GetInt("placement.maxAttempts"),
			RetryInterval: v.GetDuration("placement.retryInterval"),
		},
		Jobs: JobsConfig{
			LeaseTTL:    v.GetDuration("jobs.leaseTTL"),
			Concurrency: v.GetInt("jobs.concurrency"),
		},
		Viper: v,
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) validate() error {
	switch c.Database.Engine {
	case "postgres", "sqlite3":
	default:
		return errors.Errorf("config: unsupported database engine %q", c.Database.Engine)
	}
	if c.Placement.MaxAttempts < 1 {
		return errors.Errorf("config: placement.maxAttempts must be >= 1 (got %d)", c.Placement.MaxAttempts)
	}
	if c.Jobs.Concurrency < 1 {
		return errors.Errorf("config: jobs.concurrency must be >= 1 (got %d)", c.Jobs.Concurrency)
	}
	return nil
}
