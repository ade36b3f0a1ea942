// Package crawl walks pipeline directories and selects files with
// govaluate pattern expressions.
package crawl

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	goeval "github.com/edisonguo/govaluate"
)

const DefaultMaxErrors = 1000

const DefaultConcurrency = 4

// Entry is a regular file accepted by the crawler.
type Entry struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Dir     string    `json:"dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
}

// ParsePattern compiles a selection expression. The variables are path,
// name (the base name) and type ("d" or "f"). An empty pattern selects
// everything.
func ParsePattern(pattern string) (*goeval.EvaluableExpression, error) {
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(pattern)
	if err != nil {
		return nil, fmt.Errorf("pattern expression: %w", err)
	}

	validVariables := map[string]struct{}{"path": {}, "name": {}, "type": {}}
	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if _, found := validVariables[varName]; !found {
				return nil, fmt.Errorf("variable %v is not supported. Valid variables are path, name and type", varName)
			}
		}
	}
	return expr, nil
}

// Crawler walks a tree with bounded concurrency. Directories the pattern
// rejects are not descended.
type Crawler struct {
	FollowSymlink bool

	pattern   *goeval.EvaluableExpression
	wg        sync.WaitGroup
	concLimit chan struct{}
	mu        sync.Mutex
	entries   []*Entry
	errors    []string
}

func NewCrawler(conc int, pattern *goeval.EvaluableExpression) *Crawler {
	if conc <= 0 {
		conc = DefaultConcurrency
	}
	return &Crawler{
		pattern:   pattern,
		concLimit: make(chan struct{}, conc),
	}
}

// Crawl returns the accepted files below root sorted by path. Unreadable
// entries are skipped and reported together in the returned error.
func (c *Crawler) Crawl(root string) ([]*Entry, error) {
	c.entries = nil
	c.errors = nil

	c.wg.Add(1)
	c.concLimit <- struct{}{}
	c.crawlDir(root, false)
	c.wg.Wait()

	sort.Slice(c.entries, func(i, j int) bool { return c.entries[i].Path < c.entries[j].Path })

	if len(c.errors) > 0 {
		return c.entries, fmt.Errorf("%s", strings.Join(c.errors, "\n"))
	}
	return c.entries, nil
}

func (c *Crawler) addError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errors) < DefaultMaxErrors {
		c.errors = append(c.errors, err.Error())
	} else if len(c.errors) == DefaultMaxErrors {
		c.errors = append(c.errors, " ... too many errors")
	}
}

func (c *Crawler) crawlDir(currPath string, serialised bool) {
	defer c.wg.Done()
	if !serialised {
		defer func() { <-c.concLimit }()
	}

	files, err := os.ReadDir(currPath)
	if err != nil {
		c.addError(fmt.Errorf("could not read dir: %w", err))
		return
	}

	for _, de := range files {
		filePath := filepath.Join(currPath, de.Name())
		mode := de.Type()

		var fStat os.FileInfo
		if mode&os.ModeSymlink != 0 {
			if !c.FollowSymlink {
				continue
			}
			fStat, err = os.Stat(filePath)
			if err != nil {
				c.addError(err)
				continue
			}
			mode = fStat.Mode().Type()
		}

		isDir := mode.IsDir()
		if !isDir && !mode.IsRegular() {
			continue
		}

		if c.pattern != nil {
			ok, err := c.evaluatePattern(filePath, de.Name(), isDir)
			if err != nil {
				c.addError(err)
				continue
			}
			if !ok {
				continue
			}
		}

		if isDir {
			c.wg.Add(1)
			select {
			case c.concLimit <- struct{}{}:
				go c.crawlDir(filePath, false)
			default:
				c.crawlDir(filePath, true)
			}
			continue
		}

		if fStat == nil {
			fStat, err = de.Info()
			if err != nil {
				c.addError(err)
				continue
			}
		}

		c.mu.Lock()
		c.entries = append(c.entries, &Entry{
			Path:    filePath,
			Name:    de.Name(),
			Dir:     currPath,
			Size:    fStat.Size(),
			ModTime: fStat.ModTime().UTC(),
		})
		c.mu.Unlock()
	}
}

func (c *Crawler) evaluatePattern(filePath, name string, isDir bool) (bool, error) {
	fileType := "f"
	if isDir {
		fileType = "d"
	}

	parameters := map[string]interface{}{"type": fileType, "path": filePath, "name": name}
	result, err := c.pattern.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("pattern expression: %w", err)
	}

	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("pattern expression: result '%v' is not boolean", result)
	}
	return val, nil
}

// Files crawls root with a pattern expression using the default
// concurrency.
func Files(root, pattern string) ([]*Entry, error) {
	expr, err := ParsePattern(pattern)
	if err != nil {
		return nil, err
	}
	return NewCrawler(DefaultConcurrency, expr).Crawl(root)
}

// ListDir returns the regular files of one directory whose name has the
// suffix, sorted by name.
func ListDir(dir, suffix string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, de := range files {
		if de.Type().IsRegular() && strings.HasSuffix(de.Name(), suffix) {
			out = append(out, filepath.Join(dir, de.Name()))
		}
	}
	return out, nil
}
