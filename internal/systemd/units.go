package systemd

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// DiscoverUnits scans dir for admin-owned .service units and returns a map of
// unit name to absolute path. The scan is deliberately shallow: subdirectories
// and symlinks are skipped, so units pulled in through *.wants/ and the like
// are not considered managed.
func DiscoverUnits(dir string) map[string]string {
	units := make(map[string]string)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return units
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".service") {
			continue
		}
		if entry.Type()&os.ModeSymlink != 0 || !entry.Type().IsRegular() {
			continue
		}
		units[name] = filepath.Join(dir, name)
	}
	return units
}

// readDescription extracts the Description value from the [Unit] section of a
// service file. Missing files and malformed sections yield an empty string.
func readDescription(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	inUnit := false
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inUnit = strings.EqualFold(line, "[unit]")
			continue
		}
		if inUnit {
			if key, value, found := strings.Cut(line, "="); found && strings.EqualFold(strings.TrimSpace(key), "description") {
				return strings.TrimSpace(value)
			}
		}
	}
	return ""
}
