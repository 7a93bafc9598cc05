// Package envprobe reports what the running environment supports and how
// much storage a database uses.
package envprobe

import (
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"

	"github.com/dustin/go-humanize"
)

// Capabilities lists the registered SQL drivers and the storage backends
// they make available.
type Capabilities struct {
	GOOS     string   `json:"goos"`
	GOARCH   string   `json:"goarch"`
	Drivers  []string `json:"drivers"`
	Backends []string `json:"backends"`
	// DiskStats reports whether Quota can read free filesystem space.
	DiskStats bool `json:"diskStats"`
}

var backendDrivers = map[string][]string{
	"sqlite":   {"sqlite", "sqlite3"},
	"postgres": {"pgx"},
}

func Probe() Capabilities {
	drivers := sql.Drivers()
	c := Capabilities{
		GOOS:      runtime.GOOS,
		GOARCH:    runtime.GOARCH,
		Drivers:   drivers,
		Backends:  []string{},
		DiskStats: diskStatsSupported,
	}
	for _, b := range []string{"postgres", "sqlite"} {
		for _, d := range backendDrivers[b] {
			if slices.Contains(drivers, d) {
				c.Backends = append(c.Backends, b)
				break
			}
		}
	}
	return c
}

// Usage is storage accounting for one database file.
type Usage struct {
	Path string `json:"path"`
	// Used counts the database file and its -wal and -shm sidecars.
	Used int64 `json:"used"`
	// Free is the space left on the filesystem, or -1 when unknown.
	Free int64 `json:"free"`
	// Limit is the configured quota, 0 for none.
	Limit     int64 `json:"limit,omitempty"`
	Remaining int64 `json:"remaining,omitempty"`
	Exceeded  bool  `json:"exceeded,omitempty"`

	UsedHuman string `json:"usedHuman"`
	FreeHuman string `json:"freeHuman"`
}

// Quota measures path against limit bytes.
func Quota(path string, limit int64) (Usage, error) {
	u := Usage{Path: path, Limit: limit, Free: -1}
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		fi, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return u, err
		}
		u.Used += fi.Size()
	}
	if free, err := freeBytes(filepath.Dir(path)); err == nil {
		u.Free = free
	}
	if limit > 0 {
		u.Remaining = max(limit-u.Used, 0)
		u.Exceeded = u.Used > limit
	}
	u.UsedHuman = humanize.IBytes(uint64(u.Used))
	u.FreeHuman = "unknown"
	if u.Free >= 0 {
		u.FreeHuman = humanize.IBytes(uint64(u.Free))
	}
	return u, nil
}
