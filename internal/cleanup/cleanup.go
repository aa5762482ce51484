// Package cleanup removes aged assessment records and log files on a
// fixed interval so the data directory does not grow without bound.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

type Config struct {
	Interval  time.Duration `yaml:"interval" json:"interval"`
	Retention time.Duration `yaml:"retention" json:"retention"`
}

func DefaultConfig() Config {
	return Config{
		Interval:  30 * time.Minute,
		Retention: 3 * time.Hour,
	}
}

// Sweeper deletes JSON records and .log files older than the retention
// window from the configured directories.
type Sweeper struct {
	dirs   []string
	config Config
	now    func() time.Time
}

func NewSweeper(config Config, dirs ...string) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Retention <= 0 {
		config.Retention = DefaultConfig().Retention
	}
	return &Sweeper{dirs: dirs, config: config, now: time.Now}
}

// Run sweeps on every interval tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log.WithFields(log.Fields{
		"interval":  s.config.Interval,
		"retention": s.config.Retention,
	}).Info("Cleanup sweeper started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Cleanup sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep performs one pass and returns how many files were removed.
func (s *Sweeper) Sweep() int {
	cutoff := s.now().Add(-s.config.Retention)
	removed := 0

	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			log.WithField("dir", dir).WithError(err).Warn("Cleanup could not read directory")
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !sweepable(e.Name()) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err != nil {
				log.WithField("file", path).WithError(err).Warn("Cleanup failed to remove file")
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		log.WithField("removed", removed).Info("Cleanup sweep finished")
	}
	return removed
}

func sweepable(name string) bool {
	return strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".log")
}
