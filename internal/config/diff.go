package config

import (
	"bytes"
	"encoding/json"
	"sort"
)

// ChangedSections names the top-level sections that differ between two
// configs, plus "plugins.<name>" for each changed plugin mapping. Values are
// never returned, so tokens cannot leak into logs.
func ChangedSections(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	sections := []struct {
		name     string
		old, new any
	}{
		{"logging", oldCfg.Logging, newCfg.Logging},
		{"scheduler", oldCfg.Scheduler, newCfg.Scheduler},
		{"api", oldCfg.API, newCfg.API},
		{"notifier", oldCfg.Notifier, newCfg.Notifier},
		{"storage", oldCfg.Storage, newCfg.Storage},
		{"telegram", oldCfg.Telegram, newCfg.Telegram},
	}
	for _, s := range sections {
		if !sameJSON(s.old, s.new) {
			changed = append(changed, s.name)
		}
	}

	names := map[string]struct{}{}
	for n := range oldCfg.Plugins {
		names[n] = struct{}{}
	}
	for n := range newCfg.Plugins {
		names[n] = struct{}{}
	}
	var plugins []string
	for n := range names {
		if CanonicalHash(oldCfg.Plugins[n]) != CanonicalHash(newCfg.Plugins[n]) {
			plugins = append(plugins, "plugins."+n)
		}
	}
	sort.Strings(plugins)
	return append(changed, plugins...)
}

func sameJSON(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
