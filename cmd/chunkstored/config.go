// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/sneller-labs/chunkstore/store"
)

// Config is chunkstored's on-disk configuration: the store's own
// Options plus a GC policy applied once to every store after all
// sources have been ingested.
type Config struct {
	Store store.Options `yaml:"store"`
	GC    *GCConfigYAML `yaml:"gc"`
}

// GCConfigYAML mirrors store.GCOptions with YAML tags; store.GCOptions
// itself is not YAML-decodable because its DontProtectComponents map
// and Logf field don't round-trip cleanly through YAML scalars.
type GCConfigYAML struct {
	TargetBytesToDropMB      int64    `yaml:"target_bytes_to_drop_mb"`
	ProtectLatestStatic      bool     `yaml:"protect_latest_static"`
	ProtectLatestPerTimeline bool     `yaml:"protect_latest_per_timeline"`
	DontProtectComponents    []string `yaml:"dont_protect_components"`
}

func (g *GCConfigYAML) toOptions(logf func(string, ...interface{})) store.GCOptions {
	dont := make(map[string]bool, len(g.DontProtectComponents))
	for _, name := range g.DontProtectComponents {
		dont[name] = true
	}
	return store.GCOptions{
		TargetBytesToDrop:        g.TargetBytesToDropMB << 20,
		ProtectLatestStatic:      g.ProtectLatestStatic,
		ProtectLatestPerTimeline: g.ProtectLatestPerTimeline,
		DontProtectComponents:    dont,
		Logf:                     logf,
	}
}

// LoadConfig decodes Config from path. An empty path yields
// store.DefaultOptions() with no GC pass.
func LoadConfig(path string) (Config, error) {
	cfg := Config{Store: store.DefaultOptions()}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("chunkstored: reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("chunkstored: parsing config %s: %w", path, err)
	}
	if cfg.Store.CoalesceThresholdBytes <= 0 {
		cfg.Store.CoalesceThresholdBytes = store.DefaultCoalesceThresholdBytes
	}
	return cfg, nil
}
