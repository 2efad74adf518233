package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Log level, pipeline tuning and canon rules can be applied to a running
// server. Everything else is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged is true when temperatures, token caps, top_k, reindex
	// tuning or timeouts changed.
	PipelineChanged bool

	// CanonChanged is true when any canon rule toggle changed.
	CanonChanged bool

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart, e.g. "providers" or "memory".
	RestartRequired []string
}

// Empty reports whether d carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PipelineChanged && !d.CanonChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.PipelineChanged = !reflect.DeepEqual(old.Pipeline, new.Pipeline)
	d.CanonChanged = old.Canon != new.Canon

	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Memory != new.Memory {
		d.RestartRequired = append(d.RestartRequired, "memory")
	}
	if old.Index != new.Index {
		d.RestartRequired = append(d.RestartRequired, "index")
	}
	if old.Logs != new.Logs {
		d.RestartRequired = append(d.RestartRequired, "logs")
	}
	return d
}
