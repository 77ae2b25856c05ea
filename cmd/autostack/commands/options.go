package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "AUTOSTACK"

func (o *globalOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.configFile, "config", "", "config file (default: autostack.yaml in the work directory)")
	fs.StringVarP(&o.workDir, "workdir", "C", "", "directory holding the project settings (default: current directory)")
	fs.StringVar(&o.engine, "engine", "", "engine binary (default: pulumi on PATH)")
	fs.StringVarP(&o.stack, "stack", "s", "", "stack to operate on (default: the selected stack)")
	fs.BoolVar(&o.skipVersionCheck, "skip-version-check", false, "do not check the engine version")
	fs.StringVar(&o.journal, "journal", "", "SQLite database recording operations, events and audit entries")
	fs.BoolVar(&o.guard, "guard", false, "evaluate the built-in policies before lifecycle operations")
	fs.StringSliceVar(&o.policies, "policy", nil, "policy files or directories (implies --guard)")
	fs.StringVar(&o.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	fs.StringVar(&o.traceExporter, "trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	fs.StringVar(&o.otlpEndpoint, "otlp-endpoint", "localhost:4317", "OTLP gRPC collector address for --trace-exporter otlp")
	fs.BoolVar(&o.jsonOutput, "json", false, "output in JSON format")
}

// resolve fills every flag the user did not pass from the environment and,
// after that, from the config file.
func (o *globalOptions) resolve(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// The work directory decides where the config file is looked up.
	applyUnset(v, cmd.Flags())

	configureConfigFile(v, o.configFile, o.workDir)
	if err := readConfigFile(v, o.configFile != ""); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	applyUnset(v, cmd.Flags())

	if len(o.policies) > 0 {
		o.guard = true
	}
	return nil
}

// applyUnset copies viper values into flags that are still unset. Applied
// flags are marked changed so a later pass leaves them alone.
func applyUnset(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		val := fmt.Sprintf("%v", v.Get(f.Name))
		if f.Value.Type() == "stringSlice" {
			val = strings.Join(v.GetStringSlice(f.Name), ",")
		}
		if val != "" {
			_ = fs.Set(f.Name, val)
		}
	})
}

func configureConfigFile(v *viper.Viper, explicitPath, workDir string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("autostack")
	v.SetConfigType("yaml")
	if workDir != "" {
		v.AddConfigPath(workDir)
	} else {
		v.AddConfigPath(".")
	}
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "autostack"))
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && !strict {
			return nil
		}
		return err
	}
	return nil
}
