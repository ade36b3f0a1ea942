// Package pipeline runs the processing steps of a case study in order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ad4gd/bioconn/metrics"
	"github.com/ad4gd/bioconn/utils"
)

// StepFunc does the work of one step. Counts recorded on the collector end
// up in the step metrics record.
type StepFunc func(ctx context.Context, m *metrics.Collector) error

type Step struct {
	Name string
	Run  StepFunc
}

// Pipeline runs Steps in order for one case study. With KeepGoing a failed
// step is logged and the remaining steps still run.
type Pipeline struct {
	RunID     string
	CaseStudy string
	Habitats  []string
	Steps     []Step
	KeepGoing bool

	// LogsDir, when set, gives every step its own {step}.log.
	LogsDir string
	Debug   bool
	Metrics metrics.Logger
}

func New(caseStudy string, habitats []string) *Pipeline {
	return &Pipeline{
		RunID:     uuid.New().String(),
		CaseStudy: caseStudy,
		Habitats:  habitats,
	}
}

func (p *Pipeline) Add(name string, run StepFunc) *Pipeline {
	p.Steps = append(p.Steps, Step{Name: name, Run: run})
	return p
}

// StepError reports the steps that failed during a run.
type StepError struct {
	Failed []string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("steps failed: %s: %v", strings.Join(e.Failed, ", "), e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (p *Pipeline) Run(ctx context.Context) error {
	timer := utils.NewTimer()
	log.Infof("Run %s: case study %s, habitats %s", p.RunID, p.CaseStudy, strings.Join(p.Habitats, ","))

	var failed []string
	var errs []error
	for _, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			failed = append(failed, step.Name)
			errs = append(errs, err)
			break
		}

		err := p.runStep(ctx, step, timer)
		if err == nil {
			continue
		}
		failed = append(failed, step.Name)
		errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
		if !p.KeepGoing {
			break
		}
		log.Warnf("Continuing after failed step %s", step.Name)
	}

	timer.Total()
	if len(failed) > 0 {
		return &StepError{Failed: failed, Err: errors.Join(errs...)}
	}
	log.Infof("Run %s completed", p.RunID)
	return nil
}

func (p *Pipeline) runStep(ctx context.Context, step Step, timer *utils.Timer) (err error) {
	if len(p.LogsDir) > 0 {
		restore, logErr := utils.SetupLogging(p.LogsDir, step.Name, p.Debug)
		if logErr != nil {
			return logErr
		}
		defer restore()
	}

	collector := metrics.NewCollector(p.Metrics, p.RunID, step.Name, p.CaseStudy)
	collector.Info.Habitats = p.Habitats
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		timer.Stop()
		collector.Finish(err)
	}()

	log.Infof("Running %s for %s", step.Name, p.CaseStudy)
	timer.Start()
	err = step.Run(ctx, collector)
	if err != nil {
		log.Errorf("Step %s failed: %v", step.Name, err)
	}
	return err
}
