package core

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/rs/zerolog"
)

// Configure parses CLI flags, optionally merges a YAML config file
// (values provided on the CLI win), and applies the global settings
// (log level) before any stage is attached. The rest of the config
// surface is read directly from Engine.K by each stage's Attach.
func (e *Engine) Configure() error {
	if err := e.F.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("could not parse CLI flags: %w", err)
	}

	if v, _ := e.F.GetBool("version"); v {
		if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
			fmt.Fprintf(os.Stderr, "rpkid build info:\n%s", bi)
		}
		os.Exit(0)
	}

	// load --config file first, so CLI flags can override it
	if path, _ := e.F.GetString("config"); path != "" {
		if err := e.K.Load(file.Provider(path), yaml.Parser()); err != nil {
			return fmt.Errorf("could not read --config %s: %w", path, err)
		}
	}
	if err := e.K.Load(posflag.Provider(e.F, ".", e.K), nil); err != nil {
		return fmt.Errorf("could not merge CLI flags: %w", err)
	}

	if ll := e.K.String("log"); ll != "" {
		lvl, err := zerolog.ParseLevel(ll)
		if err != nil {
			return fmt.Errorf("--log: %w", err)
		}
		zerolog.SetGlobalLevel(lvl)
	}

	return nil
}

// addFlags registers the engine-global CLI surface.
func (e *Engine) addFlags() {
	f := e.F
	f.SortFlags = false
	f.Usage = e.usage

	f.BoolP("version", "v", false, "print build info and quit")
	f.String("config", "", "YAML config file (CLI flags override it)")
	f.StringP("log", "l", "info", "log level (debug/info/warn/error/disabled)")

	f.String("tal-dir", "/etc/rpkid/tal", "directory of .tal files to validate")
	f.String("cache-dir", "/var/lib/rpkid/cache", "local repository cache root")
	f.Duration("validation-interval", 0, "re-run validation on this interval (0 means run once at startup and keep those results)")
	f.Bool("offline", false, "never fetch; reuse the local cache (and --snapshot-file, if set) as-is")
	f.Bool("shuffle-tal-uris", false, "shuffle each TAL's URI list before trying it")
	f.Uint("max-cert-depth", 32, "certificate depth limit per TAL (every publication point is walked at depth 0, so it never cuts off a subtree)")
	f.String("filename-format", "global-url", "diagnostic filename format: global-url|local-path|rfc6488")

	f.Bool("rsync-enabled", true, "enable the rsync fetcher")
	f.Uint("rsync-priority", 50, "rsync fetcher priority (higher tried first)")
	f.Bool("rrdp-enabled", true, "enable the RRDP (HTTPS) fetcher")
	f.Uint("rrdp-priority", 60, "RRDP fetcher priority (higher tried first)")
	f.Duration("fetch-timeout", 0, "timeout for a whole validation run, all fetches included, not applied per URI (0 means none)")

	f.String("rtr-listen", ":323", "RTR server listen address")
	f.Int("rtr-backlog", 1024, "RTR server TCP listen backlog")
	f.String("rtr-md5", "", "TCP MD5 password for RTR connections (linux only)")
	f.Duration("rtr-refresh", 3600*1e9, "RTR refresh interval advertised to routers")
	f.Duration("rtr-retry", 600*1e9, "RTR retry interval advertised to routers")
	f.Duration("rtr-expire", 7200*1e9, "RTR expire interval advertised to routers")
	f.Bool("rtr-compute-deltas", false, "compute real added/removed deltas instead of always Cache Reset")

	f.String("metrics-listen", "", "diagnostics HTTP listen address (empty disables it)")

	f.String("kafka-brokers", "", "comma-separated Kafka brokers for publish notifications (empty disables it)")
	f.String("kafka-topic", "rpkid.publications", "Kafka topic for publish notifications")

	f.String("snapshot-file", "", "Routinator-style VRP JSON file to warm-start from in --offline mode")
}

func (e *Engine) usage() {
	fmt.Fprintf(os.Stderr, "Usage: rpkid [OPTIONS]\n\nOptions:\n")
	e.F.PrintDefaults()
}
