package app

import "github.com/spf13/pflag"

// RegisterFlags registers all CLI flags on the given FlagSet. Flag names
// mirror the dotted config keys they override.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("repository-url", "", "Content repository base URL")
	flags.String("repository-secure-comms", "", "Repository transport mode: secret or https")
	flags.String("repository-secret", "", "Shared secret for secret-mode repository transport")
	flags.String("search-host", "", "Search engine host")
	flags.Int("search-port", 0, "Search engine port")
	flags.String("search-protocol", "", "Search engine protocol: http or https")
	flags.String("search-index-name", "", "Data index name")
	flags.Duration("indexer-cron", 0, "Interval between index cycles")
	flags.Int("indexer-max-results", 0, "Maximum transactions fetched per cycle")
	flags.Int("indexer-content-threads", 0, "Concurrent content fetch/patch workers")
}
