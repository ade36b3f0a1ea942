package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/ad4gd/bioconn/graphab"
	"github.com/ad4gd/bioconn/impedance"
	"github.com/ad4gd/bioconn/indices"
	"github.com/ad4gd/bioconn/metrics"
	"github.com/ad4gd/bioconn/pipeline"
	"github.com/ad4gd/bioconn/postproc"
	"github.com/ad4gd/bioconn/preprocess"
	"github.com/ad4gd/bioconn/rasterize"
	"github.com/ad4gd/bioconn/storage"
	"github.com/ad4gd/bioconn/utils"
)

// failedError turns per-file failures into a step error once the step has
// done all the work it could.
func failedError(what string, failed []string) error {
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%d %s failed", len(failed), what)
}

func (a *app) fetchStep() pipeline.StepFunc {
	return func(ctx context.Context, m *metrics.Collector) error {
		store, err := a.store(ctx)
		if err != nil {
			return err
		}
		cfg := a.config.Storage
		reader := &storage.Reader{
			Store:        store,
			DataDir:      a.config.DataDir,
			ExtDir:       a.config.ExtDir,
			SkipExisting: cfg.SkipExisting,
			Concurrency:  cfg.Concurrency,
		}

		failed, err := reader.FetchAll(ctx, cfg.Bucket)
		if err != nil {
			return fmt.Errorf("listing bucket %s: %w", cfg.Bucket, err)
		}
		m.Count("failed", len(failed))

		if len(cfg.ExtBucket) > 0 {
			extFailed, err := reader.FetchExternal(ctx, cfg.ExtBucket)
			if err != nil {
				return fmt.Errorf("listing bucket %s: %w", cfg.ExtBucket, err)
			}
			m.Count("failed", len(extFailed))
			failed = append(failed, extFailed...)
		}
		return failedError("downloads", failed)
	}
}

func (a *app) impedanceStep(caseStudy string, habitats []string) pipeline.StepFunc {
	return func(ctx context.Context, m *metrics.Collector) error {
		step := &impedance.Step{
			Exec:        a.exec,
			Gdalwarp:    a.config.Tools.Gdalwarp,
			NoData:      a.config.Impedance.NoData,
			Compression: a.config.Impedance.Compression,
		}
		res, err := step.Run(ctx, a.config.LulcDir(caseStudy), a.config.InputDir(caseStudy), habitats)
		if res != nil {
			m.Count("impedance", len(res.Impedance))
			m.Count("affinity", len(res.Affinity))
			m.Count("failed", len(res.Failed))
		}
		if err != nil {
			return err
		}
		return failedError("rasters", res.Failed)
	}
}

func (a *app) graphabStep(caseStudy string) pipeline.StepFunc {
	return func(ctx context.Context, m *metrics.Collector) error {
		cfg := a.config.Graphab
		runner := &graphab.Runner{
			Exec:     a.exec,
			Shell:    a.config.Tools.Shell,
			Resolver: utils.NewRuntimeFileResolver(cfg.SearchPath),
			Wrapper:  cfg.Wrapper,
			Template: cfg.Template,
			Java:     cfg.Java,
			Jar:      cfg.Jar,
			Memory:   cfg.Memory,
		}
		return runner.Run(ctx, caseStudy, a.config.CaseConfigDir(caseStudy), a.config.DataDir)
	}
}

// eachCaseStudy runs fn for every case study. A failed case study is
// logged and the others still run.
func eachCaseStudy(caseStudies []string, fn func(caseStudy string) error) error {
	var errs []error
	for _, caseStudy := range caseStudies {
		if err := fn(caseStudy); err != nil {
			log.Errorf("Case study %s failed: %v", caseStudy, err)
			errs = append(errs, fmt.Errorf("case study %s: %w", caseStudy, err))
		}
	}
	return errors.Join(errs...)
}

func (a *app) indicesStep(caseStudies []string) pipeline.StepFunc {
	return func(ctx context.Context, m *metrics.Collector) error {
		step := &indices.Step{
			DataDir:   a.config.DataDir,
			ConfigDir: a.config.ConfigDir,
			CleanTemp: a.config.Indices.CleanTemp,
			RunID:     m.Info.RunID,
		}
		cat, err := a.catalogue()
		if err != nil {
			return err
		}
		if cat != nil {
			step.Catalogue = cat
		}

		return eachCaseStudy(caseStudies, func(caseStudy string) error {
			res, err := step.Run(ctx, caseStudy)
			if res != nil {
				m.Count("habitats", len(res.Habitats))
			}
			return err
		})
	}
}

func (a *app) joinStep(caseStudies []string) pipeline.StepFunc {
	return func(ctx context.Context, m *metrics.Collector) error {
		step := &rasterize.Step{
			Exec:          a.exec,
			GdalTranslate: a.config.Tools.GdalTranslate,
			ExcludeFields: a.config.Join.ExcludeFields,
		}
		return eachCaseStudy(caseStudies, func(caseStudy string) error {
			res, err := step.Run(ctx, a.config.OutputDir(caseStudy))
			if res != nil {
				m.Count("outputs", len(res.Outputs))
				m.Count("corridors", len(res.Corridors))
				m.Count("failed", len(res.Failed))
			}
			if err != nil {
				return err
			}
			return failedError("patch layers", res.Failed)
		})
	}
}

func (a *app) postprocStep(caseStudies []string) pipeline.StepFunc {
	return func(ctx context.Context, m *metrics.Collector) error {
		cfg := a.config.Postproc
		step := &postproc.Step{
			Exec:          a.exec,
			GdalTranslate: a.config.Tools.GdalTranslate,
			Gdalinfo:      a.config.Tools.Gdalinfo,
			NoData:        cfg.NoData,
			ClipSize:      cfg.ClipSize,
			COG:           cfg.COG,
			Pattern:       cfg.Pattern,
			SkipDirs:      cfg.SkipDirs,
			RunID:         m.Info.RunID,
		}
		cat, err := a.catalogue()
		if err != nil {
			return err
		}
		if cat != nil {
			step.Catalogue = cat
		}

		return eachCaseStudy(caseStudies, func(caseStudy string) error {
			results, err := step.RunCaseStudy(ctx, caseStudy, a.config.DataDir, a.config.ExtDir)
			var failed []string
			for _, res := range results {
				if res == nil {
					continue
				}
				m.Count("processed", len(res.Processed))
				m.Count("skipped", len(res.Skipped))
				m.Count("failed", len(res.Failed))
				failed = append(failed, res.Failed...)
			}
			if err != nil {
				return err
			}
			return failedError("rasters", failed)
		})
	}
}

func (a *app) uploadStep(caseStudy string) pipeline.StepFunc {
	return func(ctx context.Context, m *metrics.Collector) error {
		store, err := a.store(ctx)
		if err != nil {
			return err
		}
		cfg := a.config.Storage
		uploader := &storage.Uploader{
			Store:     store,
			RetryWait: cfg.RetryWait,
			Retries:   cfg.Retries,
		}

		ignore := []string{filepath.Base(a.config.ExtDir)}
		caseErr := uploader.UploadDir(ctx, cfg.Bucket, a.config.CaseDir(caseStudy), ignore)
		if caseErr != nil {
			log.Errorf("Skipping %s after failed retries: %v", a.config.CaseDir(caseStudy), caseErr)
		} else {
			m.Count("dirs", 1)
		}
		logsErr := uploader.UploadDir(ctx, cfg.Bucket, a.config.LogsDir, nil)
		if logsErr == nil {
			m.Count("dirs", 1)
		}
		return errors.Join(caseErr, logsErr)
	}
}

func (a *app) paSumStep(caseStudy string) pipeline.StepFunc {
	return func(ctx context.Context, m *metrics.Collector) error {
		sum, err := preprocess.NewPASum(a.exec, a.config.LulcDir(caseStudy), a.config.InputDir(caseStudy), a.config.OutputDir(caseStudy))
		if err != nil {
			return err
		}
		sum.GdalTranslate = a.config.Tools.GdalTranslate
		sum.GdalCalc = a.config.Tools.GdalCalc
		sum.YearlyPA = a.config.Preprocess.YearlyPA
		sum.KeepTemp = a.config.Preprocess.KeepTemp

		outputs, err := sum.Run(ctx)
		m.Count("outputs", len(outputs))
		if err == nil {
			log.Infof("Protected areas combined into %d rasters", len(outputs))
		}
		return err
	}
}
