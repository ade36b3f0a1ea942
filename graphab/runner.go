package graphab

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/CloudyKit/jet/v6"
	log "github.com/sirupsen/logrus"

	"github.com/ad4gd/bioconn/utils"
	"github.com/ad4gd/bioconn/worker"
)

// DefaultTemplate hands the whole case study to the wrapper script.
const DefaultTemplate = "{{ wrapper }} {{ caseStudy }}\n"

const templateName = "/graphab.jet"

// ScriptData is the context of the command template.
type ScriptData struct {
	CaseStudy string
	ConfigDir string
	DataDir   string
	Habitats  []*CaseConfig
	Wrapper   string
	Java      string
	Jar       string
	Memory    string
}

// Runner renders the Graphab command script for a case study and runs it
// with the configured shell.
type Runner struct {
	Exec     worker.Executor
	Shell    string
	Resolver *utils.RuntimeFileResolver
	Wrapper  string
	Template string
	Java     string
	Jar      string
	Memory   string
}

func (r *Runner) templateText() (string, error) {
	if len(r.Template) == 0 {
		return DefaultTemplate, nil
	}
	path := r.Template
	if r.Resolver != nil {
		resolved, err := r.Resolver.Lookup(r.Template)
		if err != nil {
			return "", err
		}
		path = resolved
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func (r *Runner) wrapperPath() string {
	if r.Resolver == nil {
		return r.Wrapper
	}
	path, err := r.Resolver.LookupExecutable(r.Wrapper)
	if err != nil {
		log.Warnf("Graphab wrapper not resolved, using %s as given: %v", r.Wrapper, err)
		return r.Wrapper
	}
	return path
}

// Render produces the shell script for a case study.
func (r *Runner) Render(data *ScriptData) (string, error) {
	text, err := r.templateText()
	if err != nil {
		return "", fmt.Errorf("loading Graphab template: %w", err)
	}

	loader := jet.NewInMemLoader()
	loader.Set(templateName, text)
	view := jet.NewSet(loader, jet.WithSafeWriter(func(w io.Writer, b []byte) {
		w.Write(b)
	}))

	template, err := view.GetTemplate(templateName)
	if err != nil {
		return "", fmt.Errorf("parsing Graphab template: %w", err)
	}

	vars := make(jet.VarMap)
	vars.Set("wrapper", data.Wrapper)
	vars.Set("caseStudy", data.CaseStudy)
	vars.Set("configDir", data.ConfigDir)
	vars.Set("dataDir", data.DataDir)
	vars.Set("java", data.Java)
	vars.Set("jar", data.Jar)
	vars.Set("memory", data.Memory)

	var resBuf bytes.Buffer
	if err = template.Execute(&resBuf, vars, data); err != nil {
		return "", fmt.Errorf("rendering Graphab template: %w", err)
	}
	return resBuf.String(), nil
}

// Run loads the case study configs from configDir and executes the
// rendered script.
func (r *Runner) Run(ctx context.Context, caseStudy, configDir, dataDir string) error {
	configs, err := LoadCaseConfigs(configDir)
	if err != nil {
		return err
	}
	for _, c := range configs {
		log.Infof("Configuration %s, habitat %s", c.Path, c.Habitat)
	}

	data := &ScriptData{
		CaseStudy: caseStudy,
		ConfigDir: configDir,
		DataDir:   dataDir,
		Habitats:  configs,
		Wrapper:   r.wrapperPath(),
		Java:      r.Java,
		Jar:       r.Jar,
		Memory:    r.Memory,
	}

	script, err := r.Render(data)
	if err != nil {
		return err
	}
	log.Infof("Running Graphab for %s", caseStudy)
	log.Debugf("Graphab script:\n%s", script)

	if err = r.Exec.Run(ctx, r.Shell, "-c", script); err != nil {
		return fmt.Errorf("graphab: %w", err)
	}
	return nil
}
