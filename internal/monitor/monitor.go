// Package monitor periodically writes mirror statistics to a status file.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ctrldec/trafficmirror/internal/mirror"
)

// StatsSource reports the current mirror statistics.
type StatsSource interface {
	Stats() mirror.Stats
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Source     StatsSource
	Logger     *slog.Logger
	StatusFile string
	Interval   time.Duration
}

// Status is the document written to the status file.
type Status struct {
	Time         time.Time `json:"time"`
	Started      bool      `json:"started"`
	Paused       bool      `json:"paused"`
	Tick         uint64    `json:"tick"`
	SimTime      float64   `json:"simTime"`
	Vehicles     int       `json:"vehicles"`
	Signals      int       `json:"signals"`
	Steps        uint64    `json:"steps"`
	FailedSteps  uint64    `json:"failedSteps"`
	Dropped      uint64    `json:"droppedUpdates"`
	InboxPending int       `json:"inboxPending"`
	LastStepMs   float64   `json:"lastStepMs"`
	DelayMs      int64     `json:"delayMs"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetProgramStatus returns the current status and its indented JSON lines.
func (s *Service) GetProgramStatus() (output []string, status Status) {
	st := s.deps.Source.Stats()
	status = Status{
		Time:         time.Now().UTC(),
		Started:      st.Started,
		Paused:       st.Paused,
		Tick:         st.Tick,
		SimTime:      st.SimTime,
		Vehicles:     st.Vehicles,
		Signals:      st.Signals,
		Steps:        st.Steps,
		FailedSteps:  st.FailedSteps,
		Dropped:      st.Dropped,
		InboxPending: st.InboxPending,
		LastStepMs:   float64(st.LastStep.Microseconds()) / 1000,
		DelayMs:      st.Delay.Milliseconds(),
	}

	b, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		b = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
	}
	output = append(output, string(b))
	return output, status
}

// WriteStatus replaces the status file content with the current status.
func (s *Service) WriteStatus() error {
	lines, _ := s.GetProgramStatus()
	f, err := os.Create(s.deps.StatusFile)
	if err != nil {
		return fmt.Errorf("creating status file: %w", err)
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("writing status file: %w", err)
		}
	}
	return nil
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			close(done)
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine", "file", s.deps.StatusFile)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.WriteStatus(); err != nil {
					logger.Error("Error writing status file", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for the last write to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	s.isRunning = false
	done := s.done
	s.mu.Unlock()
	<-done
}
