// Package config provides the small set of flag-parsing helpers shared by
// cmd/rm, cmd/tm, and cmd/wc, grounded on the teacher's cmd/warren pattern
// of persistent cobra flags plus a log.Init() call run via
// cobra.OnInitialize — no viper or YAML config file, matching the
// teacher's own CLI which configures entirely through flags.
package config

import (
	"github.com/spf13/cobra"

	"github.com/JoDio-zd/resvoy/pkg/log"
)

// AddLoggingFlags registers the --log-level/--log-json persistent flags
// shared by every resvoy binary.
func AddLoggingFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")
}

// InitLogging reads the logging flags off cmd and initializes the global
// logger. Intended to be passed to cobra.OnInitialize.
func InitLogging(cmd *cobra.Command) func() {
	return func() {
		level, _ := cmd.PersistentFlags().GetString("log-level")
		jsonOutput, _ := cmd.PersistentFlags().GetBool("log-json")
		log.Init(log.Config{
			Level:      log.Level(level),
			JSONOutput: jsonOutput,
		})
	}
}
