package simulator

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// RunDir manages the directory structure for a simulation run.
// All artifacts (log, reports, scenario copy) are stored in a single
// timestamped directory.
type RunDir struct {
	mu      sync.Mutex
	baseDir string
	logFile *os.File
}

// NewRunDir creates a new run directory with a timestamped subdirectory.
// The directory structure is:
//
//	{baseDir}/{timestamp}/
//	├── run.log         # Debug log of the run
//	├── scenario.yaml   # Copy of input scenario
//	├── report.json     # JSON report
//	└── report.txt      # Per-fiber table
func NewRunDir(baseDir string, scenario *Scenario) (*RunDir, error) {
	if baseDir == "" {
		baseDir = "./sim-runs"
	}

	// Include nanoseconds to avoid collisions when starting multiple runs quickly
	timestamp := time.Now().Format("2006-01-02_15-04-05.000000000")
	runDir := filepath.Join(baseDir, timestamp)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	rd := &RunDir{baseDir: runDir}

	if scenario != nil {
		if err := rd.saveScenario(scenario); err != nil {
			return nil, fmt.Errorf("failed to save scenario: %w", err)
		}
	}

	return rd, nil
}

// Dir returns the run directory path.
func (rd *RunDir) Dir() string {
	return rd.baseDir
}

// ReportPath returns the path for the JSON report.
func (rd *RunDir) ReportPath() string {
	return filepath.Join(rd.baseDir, "report.json")
}

// TablePath returns the path for the text table report.
func (rd *RunDir) TablePath() string {
	return filepath.Join(rd.baseDir, "report.txt")
}

// ScenarioPath returns the path to the saved scenario.
func (rd *RunDir) ScenarioPath() string {
	return filepath.Join(rd.baseDir, "scenario.yaml")
}

// LogPath returns the path of the run log.
func (rd *RunDir) LogPath() string {
	return filepath.Join(rd.baseDir, "run.log")
}

func (rd *RunDir) saveScenario(scenario *Scenario) error {
	data, err := yaml.Marshal(scenario)
	if err != nil {
		return err
	}
	return os.WriteFile(rd.ScenarioPath(), data, 0644)
}

// CreateLogger creates a debug logger writing to the run log.
func (rd *RunDir) CreateLogger() (*slog.Logger, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	if rd.logFile == nil {
		f, err := os.Create(rd.LogPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		rd.logFile = f
	}

	handler := slog.NewTextHandler(rd.logFile, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	return slog.New(handler), nil
}

// WriteReports writes the JSON and table reports and returns their paths.
func (rd *RunDir) WriteReports(res *Result) ([]string, error) {
	if err := WriteJSON(res, rd.ReportPath()); err != nil {
		return nil, err
	}

	f, err := os.Create(rd.TablePath())
	if err != nil {
		return nil, fmt.Errorf("failed to create table report: %w", err)
	}
	if err := WriteTable(f, res); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write table report: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return []string{rd.ReportPath(), rd.TablePath()}, nil
}

// Close closes the run log.
func (rd *RunDir) Close() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	if rd.logFile == nil {
		return nil
	}
	var errs []error
	if err := rd.logFile.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync log: %w", err))
	}
	if err := rd.logFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close log: %w", err))
	}
	rd.logFile = nil
	return errors.Join(errs...)
}
