package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ad4gd/bioconn/crawl"
	"github.com/ad4gd/bioconn/pipeline"
	"github.com/ad4gd/bioconn/utils"
)

func habitatsArg(arg string) ([]string, error) {
	habitats := utils.SplitList(arg)
	if len(habitats) == 0 {
		return nil, fmt.Errorf("no habitats in %q", arg)
	}
	return habitats, nil
}

// caseStudiesArg splits a comma separated list such as
// cat_aggr_buf_30m,cat_aggr_buf_390m.
func caseStudiesArg(arg string) ([]string, error) {
	caseStudies := utils.SplitList(arg)
	if len(caseStudies) == 0 {
		return nil, fmt.Errorf("no case studies in %q", arg)
	}
	return caseStudies, nil
}

// stepCmd wraps a single step in a one step pipeline so it gets the same
// log file, timing and metrics as in a full run.
func stepCmd(a *app, use, short string, args cobra.PositionalArgs, step func(args []string) (string, pipeline.StepFunc, error)) *cobra.Command {
	name := strings.Fields(use)[0]
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			caseStudy, run, err := step(args)
			if err != nil {
				return err
			}
			return a.pipeline(caseStudy, nil).Add(name, run).Run(cmd.Context())
		},
	}
}

func runCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run case_study habitats",
		Short: "Run every step for a case study, e.g. run cat_aggr_buf_30m_test forest,shrubland",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caseStudy := args[0]
			habitats, err := habitatsArg(args[1])
			if err != nil {
				return err
			}

			p := a.pipeline(caseStudy, habitats).
				Add("fetch", a.fetchStep()).
				Add("impedance", a.impedanceStep(caseStudy, habitats)).
				Add("graphab", a.graphabStep(caseStudy)).
				Add("indices", a.indicesStep([]string{caseStudy})).
				Add("join", a.joinStep([]string{caseStudy})).
				Add("postproc", a.postprocStep([]string{caseStudy})).
				Add("upload", a.uploadStep(caseStudy))
			return p.Run(cmd.Context())
		},
	}
	cmd.Flags().Bool("skip-existing-files", true, "Do not download files that exist locally")
	cmd.Flags().Bool("clean-temp", false, "Delete the per habitat glob*.txt files after merging")
	a.bindLocal(cmd, map[string]string{
		"skip-existing-files": "storage.skip_existing",
		"clean-temp":          "indices.clean_temp",
	})
	return cmd
}

func fetchCmd(a *app) *cobra.Command {
	cmd := stepCmd(a, "fetch", "Download the pipeline and external buckets", cobra.NoArgs,
		func(args []string) (string, pipeline.StepFunc, error) {
			return "", a.fetchStep(), nil
		})
	cmd.Flags().String("bucket", "", "Bucket with the case study data")
	cmd.Flags().String("ext-bucket", "", "Bucket with external ICT rasters")
	cmd.Flags().Bool("skip-existing-files", true, "Do not download files that exist locally")
	a.bindLocal(cmd, map[string]string{
		"bucket":              "storage.bucket",
		"ext-bucket":          "storage.ext_bucket",
		"skip-existing-files": "storage.skip_existing",
	})
	return cmd
}

func impedanceCmd(a *app) *cobra.Command {
	return stepCmd(a, "impedance case_study habitats", "Reclassify LULC rasters into impedance and affinity", cobra.ExactArgs(2),
		func(args []string) (string, pipeline.StepFunc, error) {
			habitats, err := habitatsArg(args[1])
			if err != nil {
				return "", nil, err
			}
			return args[0], a.impedanceStep(args[0], habitats), nil
		})
}

func graphabCmd(a *app) *cobra.Command {
	return stepCmd(a, "graphab case_study", "Run the Graphab wrapper for every habitat config", cobra.ExactArgs(1),
		func(args []string) (string, pipeline.StepFunc, error) {
			return args[0], a.graphabStep(args[0]), nil
		})
}

func indicesCmd(a *app) *cobra.Command {
	cmd := stepCmd(a, "indices case_studies", "Merge and plot the Graphab global indices", cobra.ExactArgs(1),
		func(args []string) (string, pipeline.StepFunc, error) {
			caseStudies, err := caseStudiesArg(args[0])
			if err != nil {
				return "", nil, err
			}
			return args[0], a.indicesStep(caseStudies), nil
		})
	cmd.Flags().Bool("clean-temp", false, "Delete the per habitat glob*.txt files after merging")
	a.bindLocal(cmd, map[string]string{"clean-temp": "indices.clean_temp"})
	return cmd
}

func joinCmd(a *app) *cobra.Command {
	return stepCmd(a, "join case_studies", "Rasterize the patch GeoPackage fields and tag corridors", cobra.ExactArgs(1),
		func(args []string) (string, pipeline.StepFunc, error) {
			caseStudies, err := caseStudiesArg(args[0])
			if err != nil {
				return "", nil, err
			}
			return args[0], a.joinStep(caseStudies), nil
		})
}

func postprocCmd(a *app) *cobra.Command {
	cmd := stepCmd(a, "postproc case_studies", "Mask, clip and compress outputs and compute local statistics", cobra.ExactArgs(1),
		func(args []string) (string, pipeline.StepFunc, error) {
			caseStudies, err := caseStudiesArg(args[0])
			if err != nil {
				return "", nil, err
			}
			return args[0], a.postprocStep(caseStudies), nil
		})
	cmd.Flags().Bool("cog", true, "Write Cloud Optimized GeoTIFFs")
	a.bindLocal(cmd, map[string]string{"cog": "postproc.cog"})
	return cmd
}

func uploadCmd(a *app) *cobra.Command {
	cmd := stepCmd(a, "upload case_study", "Upload the case study results and logs", cobra.ExactArgs(1),
		func(args []string) (string, pipeline.StepFunc, error) {
			return args[0], a.uploadStep(args[0]), nil
		})
	cmd.Flags().String("bucket", "", "Destination bucket")
	a.bindLocal(cmd, map[string]string{"bucket": "storage.bucket"})
	return cmd
}

func paSumCmd(a *app) *cobra.Command {
	cmd := stepCmd(a, "pa-sum case_study", "Add protected area rasters to the LULC rasters", cobra.ExactArgs(1),
		func(args []string) (string, pipeline.StepFunc, error) {
			return args[0], a.paSumStep(args[0]), nil
		})
	cmd.Flags().Bool("yearly-pa", true, "Use pa_{year}.tif instead of pa_multi_year.tif")
	cmd.Flags().Bool("keep-temp", false, "Keep the temporary LULC rasters")
	a.bindLocal(cmd, map[string]string{
		"yearly-pa": "preprocess.yearly_pa",
		"keep-temp": "preprocess.keep_temp",
	})
	return cmd
}

func infoCmd(a *app) *cobra.Command {
	var withStats bool
	var pattern string
	cmd := &cobra.Command{
		Use:   "info path...",
		Short: "Print a JSON summary of rasters, directories are crawled with --pattern",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var paths []string
			for _, arg := range args {
				fi, err := os.Stat(arg)
				if err != nil {
					return err
				}
				if !fi.IsDir() {
					paths = append(paths, arg)
					continue
				}
				entries, err := crawl.Files(arg, pattern)
				if err != nil {
					return err
				}
				for _, e := range entries {
					paths = append(paths, e.Path)
				}
			}

			for _, path := range paths {
				info, err := crawl.ExtractInfo(path, withStats)
				if err != nil {
					return err
				}
				out, err := info.ToJSON()
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withStats, "stats", false, "Compute band statistics")
	cmd.Flags().StringVar(&pattern, "pattern", utils.DefaultPostprocPattern, "Crawl pattern over path, name and type")
	return cmd
}
