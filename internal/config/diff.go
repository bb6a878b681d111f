package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DispatcherChanged covers persona, fallback reply, history limit,
	// sampling parameters and voice.
	DispatcherChanged bool

	// PipelineChanged covers timeouts, retry budget, transcript minimum and
	// idle timeout. Queue depth and sample rate apply to new sessions only.
	PipelineChanged bool

	// RestartRequired names the top-level sections that changed but cannot
	// be applied to a running server.
	RestartRequired []string
}

// Changed reports whether anything hot-reloadable changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DispatcherChanged || d.PipelineChanged
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.DispatcherChanged = old.Dispatcher != new.Dispatcher
	d.PipelineChanged = !reflect.DeepEqual(old.Pipeline, new.Pipeline)

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	cold := []struct {
		name    string
		changed bool
	}{
		{"server", !reflect.DeepEqual(oldServer, newServer)},
		{"providers", !reflect.DeepEqual(old.Providers, new.Providers)},
		{"segmenter", old.Segmenter != new.Segmenter},
		{"analyzer", !reflect.DeepEqual(old.Analyzer, new.Analyzer)},
		{"cases", old.Cases != new.Cases},
		{"registrar", !reflect.DeepEqual(old.Registrar, new.Registrar)},
		{"archive", old.Archive != new.Archive},
		{"events", !reflect.DeepEqual(old.Events, new.Events)},
	}
	for _, c := range cold {
		if c.changed {
			d.RestartRequired = append(d.RestartRequired, c.name)
		}
	}
	return d
}
