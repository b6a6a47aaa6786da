// Package watch re-imports sources on a fixed interval (AUTOMATIC store mode),
// remembering the last run of each source across restarts.
package watch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/orchestrate"
)

// Importer runs one import of the given sources.
type Importer interface {
	Run(ctx context.Context, aliases []string, mode models.StoreMode) (*orchestrate.RunSummary, error)
}

// Scheduler runs due sources through an Importer, one import at a time.
type Scheduler struct {
	importer     Importer
	aliases      []string
	interval     time.Duration
	checkEvery   time.Duration
	log          *logrus.Entry
	stateManager *StateManager

	busy atomic.Bool
	wg   sync.WaitGroup
}

// NewScheduler creates a scheduler importing aliases every interval, with its state in stateDir.
func NewScheduler(importer Importer, aliases []string, interval time.Duration, stateDir string, log *logrus.Entry) *Scheduler {
	s := &Scheduler{
		importer:     importer,
		aliases:      aliases,
		interval:     interval,
		log:          log,
		stateManager: NewStateManager(stateDir),
	}
	s.checkEvery = s.calculateTickInterval()
	return s
}

// Run blocks until ctx is done, importing sources as they fall due. An
// import still in progress when ctx ends is waited for.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.stateManager.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	s.log.Infof("Starting watch mode for %d sources with interval %s", len(s.aliases), FormatInterval(s.interval))
	s.logSchedule()

	s.runDueSources(ctx)

	ticker := time.NewTicker(s.checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.runDueSources(ctx)
		}
	}
}

// runDueSources starts an import of the due sources unless one is running.
func (s *Scheduler) runDueSources(ctx context.Context) {
	due := s.getDueSources()
	if len(due) == 0 {
		s.logNextRun()
		return
	}
	if !s.busy.CompareAndSwap(false, true) {
		s.log.Debugf("Import still running, %v will be checked on the next tick", due)
		return
	}

	s.log.Infof("Running import for %d due sources: %v", len(due), due)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)

		summary, err := s.importer.Run(ctx, due, models.StoreModeAutomatic)
		if err != nil {
			s.log.Errorf("Scheduled import failed: %v", err)
			for _, alias := range due {
				s.stateManager.Record(alias, SourceState{ErrorMessage: err.Error()})
			}
		} else {
			for _, r := range summary.Results {
				s.stateManager.Record(r.Source, SourceState{
					LastRunID:      summary.RunID,
					LastRunSuccess: r.Success,
					Accepted:       r.Accepted,
					Stored:         r.Stored,
					ErrorMessage:   r.Error,
				})
			}
		}

		if err := s.stateManager.Save(); err != nil {
			s.log.Errorf("Failed to save watch state: %v", err)
		}
		s.logNextRun()
	}()
}

func (s *Scheduler) getDueSources() []string {
	var due []string
	for _, alias := range s.aliases {
		if s.stateManager.ShouldRun(alias, s.interval) {
			due = append(due, alias)
		}
	}
	return due
}

// calculateTickInterval checks for due sources ten times per interval, between 1 and 10 minutes.
func (s *Scheduler) calculateTickInterval() time.Duration {
	checkInterval := s.interval / 10
	if checkInterval < time.Minute {
		checkInterval = time.Minute
	}
	if checkInterval > 10*time.Minute {
		checkInterval = 10 * time.Minute
	}
	return checkInterval
}

func (s *Scheduler) logSchedule() {
	s.log.Info("Watch schedule:")
	for _, alias := range s.aliases {
		state, exists := s.stateManager.GetSourceState(alias)
		if !exists {
			s.log.Infof("  %s: never run, will run immediately", alias)
			continue
		}
		status := "success"
		if !state.LastRunSuccess {
			status = "failed"
		}
		s.log.Infof("  %s: last run %v (%s, %d accepted), next run %v",
			alias,
			state.LastRunTime.Format(time.RFC3339),
			status,
			state.Accepted,
			s.stateManager.GetNextRunTime(alias, s.interval).Format(time.RFC3339))
	}
}

func (s *Scheduler) logNextRun() {
	type nextRun struct {
		alias string
		at    time.Time
	}
	var runs []nextRun
	for _, alias := range s.aliases {
		runs = append(runs, nextRun{alias, s.stateManager.GetNextRunTime(alias, s.interval)})
	}
	if len(runs) == 0 {
		return
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].at.Before(runs[j].at) })

	next := runs[0]
	until := time.Until(next.at)
	if until < 0 {
		until = 0
	}
	s.log.Infof("Next import: %s in %v (at %s)", next.alias, until.Round(time.Second), next.at.Format("15:04:05"))
}

// SourceStatus is the schedule view of one source.
type SourceStatus struct {
	Source         string    `json:"source"`
	LastRunTime    time.Time `json:"last_run_time"`
	LastRunSuccess bool      `json:"last_run_success"`
	Accepted       int       `json:"accepted"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	NextRunTime    time.Time `json:"next_run_time"`
	NeverRun       bool      `json:"never_run"`
}

// GetStatus returns the schedule of every watched source.
func (s *Scheduler) GetStatus() map[string]SourceStatus {
	status := make(map[string]SourceStatus, len(s.aliases))
	for _, alias := range s.aliases {
		state, exists := s.stateManager.GetSourceState(alias)
		status[alias] = SourceStatus{
			Source:         alias,
			LastRunTime:    state.LastRunTime,
			LastRunSuccess: state.LastRunSuccess,
			Accepted:       state.Accepted,
			ErrorMessage:   state.ErrorMessage,
			NextRunTime:    s.stateManager.GetNextRunTime(alias, s.interval),
			NeverRun:       !exists,
		}
	}
	return status
}

// FormatInterval renders d compactly: 30s, 5m, 1h30m, 1d12h.
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		if mins := int(d.Minutes()) % 60; mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	if hours := int(d.Hours()) % 24; hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval accepts Go durations plus a day suffix: "24h", "7d", "1d12h".
func ParseInterval(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("interval must be positive: %s", s)
		}
		return d, nil
	}

	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 && days > 0 {
		d := time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
