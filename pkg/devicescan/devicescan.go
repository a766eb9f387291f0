// Package devicescan enumerates likely printer device nodes under /dev,
// grounded on ipc_find_devices in
// _examples/original_source/src/ipc_shared.c.
package devicescan

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Enumerate returns a sorted, unique list of /dev entries whose names
// match this platform's printer device-node prefixes (see prefixes_*.go).
func Enumerate() ([]string, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []string
	for _, e := range entries {
		if !isCharDevice(e) {
			continue
		}
		name := e.Name()
		for _, prefix := range platformPrefixes {
			if strings.HasPrefix(name, prefix) {
				path := filepath.Join("/dev", name)
				if _, dup := seen[path]; !dup {
					seen[path] = struct{}{}
					out = append(out, path)
				}
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func isCharDevice(e os.DirEntry) bool {
	info, err := e.Info()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
