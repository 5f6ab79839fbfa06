package main

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/determined-ai/capsched/internal/config"
	"github.com/determined-ai/capsched/version"
)

var v *viper.Viper

// viperKeyDelimiter marks nested values in the configuration. Pool tags and resource names may
// contain ".", so nesting uses ".." instead.
const viperKeyDelimiter = ".."

//nolint:gochecknoinit
func init() {
	// Link-time variable assignments are not applied when package-scoped variables are
	// initialized, so the version is set here.
	rootCmd.Version = version.Version
	registerConfig()
	rootCmd.AddCommand(runCmd, configCmd, newVersionCmd())
}

type configKey []string

func (c configKey) EnvName() string {
	return "CAPSCHED_" + strings.ReplaceAll(strings.ToUpper(c.FlagName()), "-", "_")
}

func (c configKey) AccessPath() string {
	return strings.ReplaceAll(strings.Join(c, viperKeyDelimiter), "-", "_")
}

func (c configKey) FlagName() string {
	return strings.Join(c, "-")
}

func registerString(flags *pflag.FlagSet, name configKey, value string, usage string) {
	flags.String(name.FlagName(), value, usage)
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(name.FlagName()))
	v.SetDefault(name.AccessPath(), value)
}

func registerBool(flags *pflag.FlagSet, name configKey, value bool, usage string) {
	flags.Bool(name.FlagName(), value, usage)
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(name.FlagName()))
	v.SetDefault(name.AccessPath(), value)
}

func registerInt(flags *pflag.FlagSet, name configKey, value int, usage string) {
	flags.Int(name.FlagName(), value, usage)
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(name.FlagName()))
	v.SetDefault(name.AccessPath(), value)
}

func registerDuration(flags *pflag.FlagSet, name configKey, value config.Duration, usage string) {
	registerString(flags, name, time.Duration(value).String(), usage)
}

func registerConfig() {
	v = viper.NewWithOptions(viper.KeyDelimiter(viperKeyDelimiter))
	v.SetTypeByDefaultValue(true)

	defaults := config.DefaultConfig()

	// Every subcommand reads the same configuration, so the flags are persistent.
	flags := rootCmd.PersistentFlags()
	name := func(components ...string) configKey { return components }

	registerString(flags, name("config-file"),
		defaults.ConfigFile, "location of config file")

	registerString(flags, name("log", "level"),
		defaults.Log.Level, "choose logging level from [trace, debug, info, warn, error, fatal]")
	registerBool(flags, name("log", "color"),
		defaults.Log.Color, "output logs in color")
	registerString(flags, name("log", "format"),
		defaults.Log.Format, "choose log format from [text, json]")
	registerBool(flags, name("log", "caller"),
		defaults.Log.Caller, "report the calling function in every log entry")

	registerInt(flags, name("worker-lost-retries"),
		defaults.WorkerLostRetries, "how many times a task whose worker was lost is retried")
	registerDuration(flags, name("retry-backoff", "initial-interval"),
		defaults.RetryBackoff.InitialInterval, "delay before the first retry of a lost task")
	registerDuration(flags, name("retry-backoff", "max-interval"),
		defaults.RetryBackoff.MaxInterval, "longest delay between retries of a lost task")
	registerInt(flags, name("retain-finished"),
		defaults.RetainFinished, "how many finished tasks keep a queryable status")
	registerDuration(flags, name("shutdown-timeout"),
		defaults.ShutdownTimeout, "how long shutdown waits for running tasks before cancelling them")

	registerString(flags, name("docker", "host"),
		defaults.Docker.Host, "Docker daemon address; DOCKER_HOST is used when empty")

	registerBool(flags, name("observability", "enable-prometheus"),
		defaults.Observability.EnablePrometheus, "serve Prometheus metrics")
	registerString(flags, name("observability", "listen"),
		defaults.Observability.Listen, "address the metrics endpoint listens on")
}
