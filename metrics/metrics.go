package metrics

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// StepInfo is the record written for every pipeline step.
type StepInfo struct {
	RunID     string         `json:"run_id"`
	Step      string         `json:"step"`
	CaseStudy string         `json:"case_study"`
	Habitats  []string       `json:"habitats,omitempty"`
	StartTime string         `json:"start_time"`
	Duration  time.Duration  `json:"duration"`
	Counts    map[string]int `json:"counts,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func (i *StepInfo) ToJSON() (string, error) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(i); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Collector gathers the StepInfo of one step and hands it to the logger.
type Collector struct {
	Info   *StepInfo
	start  time.Time
	mu     sync.Mutex
	logger Logger
}

func NewCollector(logger Logger, runID, step, caseStudy string) *Collector {
	now := time.Now()
	return &Collector{
		Info: &StepInfo{
			RunID:     runID,
			Step:      step,
			CaseStudy: caseStudy,
			StartTime: now.UTC().Format(time.RFC3339),
			Counts:    make(map[string]int),
		},
		start:  now,
		logger: logger,
	}
}

// Count adds n to a named counter such as "processed" or "failed".
func (m *Collector) Count(name string, n int) {
	m.mu.Lock()
	m.Info.Counts[name] += n
	m.mu.Unlock()
}

// CountNames returns the counter names in sorted order.
func (m *Collector) CountNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.Info.Counts))
	for name := range m.Info.Counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Finish stamps the duration and error and logs the record.
func (m *Collector) Finish(err error) {
	m.mu.Lock()
	m.Info.Duration = time.Since(m.start)
	if err != nil {
		m.Info.Error = err.Error()
	}
	m.mu.Unlock()
	if m.logger != nil {
		m.logger.Log(m.Info)
	}
}
