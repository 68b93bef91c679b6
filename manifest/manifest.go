// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package manifest implements the default ConfigClient: a directory of
// JSON files, one ServiceInfo (plus an optional DeployInfo overlay) per
// service, grounded on govisord/main.go's manifest-directory scan.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"svcsupervisor/config"
)

// Entry pairs a ServiceInfo with its optional DeployInfo overlay, the
// same shape as the root package's ConfigEntry, per spec.md §6.
type Entry struct {
	Info   *config.ServiceInfo
	Deploy *config.DeployInfo
}

// manifestFile is the on-disk JSON shape: a ServiceInfo's fields inlined
// alongside an optional "deploy" key, so a single file fully describes
// one service.
type manifestFile struct {
	config.ServiceInfo
	Deploy *config.DeployInfo `json:"deploy,omitempty"`
}

// Client loads Entry values from every "*.json" file directly inside Dir.
// Its Load returns manifest.Entry values rather than the root package's
// ConfigEntry, so it does not implement ConfigClient directly;
// cmd/svcsupervisord wraps it in a small adapter.
type Client struct {
	Dir string
}

// NewClient returns a Client reading manifests from dir.
func NewClient(dir string) *Client {
	return &Client{Dir: dir}
}

// Load reads every manifest in Dir, per spec.md §6's "returns the current
// ServiceInfo list plus optional DeployInfo overlay per service". A
// malformed file is skipped with its error collected, rather than
// aborting the whole load — one bad manifest shouldn't take down every
// other service.
func (c *Client) Load() ([]Entry, error) {
	names, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil, fmt.Errorf("manifest: read dir %s: %w", c.Dir, err)
	}

	var entries []Entry
	var errs []string
	for _, n := range names {
		if n.IsDir() || !strings.HasSuffix(strings.ToLower(n.Name()), ".json") {
			continue
		}
		path := filepath.Join(c.Dir, n.Name())
		entry, err := c.loadOne(path)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		entries = append(entries, entry)
	}

	if len(errs) > 0 {
		return entries, fmt.Errorf("manifest: %d file(s) failed to load: %s", len(errs), strings.Join(errs, "; "))
	}
	return entries, nil
}

func (c *Client) loadOne(path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}
	var mf manifestFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return Entry{}, err
	}
	info := mf.ServiceInfo
	if info.Name == "" {
		info.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := info.Validate(); err != nil {
		return Entry{}, err
	}
	infoCopy := info
	return Entry{Info: &infoCopy, Deploy: mf.Deploy}, nil
}
