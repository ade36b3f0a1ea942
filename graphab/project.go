package graphab

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ad4gd/bioconn/crawl"
)

func projectFiles(dir string) []string {
	files, err := crawl.ListDir(dir, ".xml")
	if err != nil {
		return nil
	}
	var out []string
	for _, f := range files {
		if !strings.HasSuffix(f, "aux.xml") {
			out = append(out, f)
		}
	}
	return out
}

// FindProjectXML returns the first Graphab project file, *.xml but not
// *aux.xml, in the directory of path or else in its parent.
func FindProjectXML(path string) (string, bool) {
	dir := filepath.Dir(path)
	files := projectFiles(dir)
	if len(files) == 0 {
		files = projectFiles(filepath.Dir(dir))
	}
	if len(files) == 0 {
		return "", false
	}
	return files[0], true
}

// ProjectHabitat reads the name of the first habitat of a project, the
// text of a Habitat/name element below habitats/entry.
func ProjectHabitat(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	name, err := parseHabitat(f)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return name, nil
}

func parseHabitat(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var stack []string
	var text strings.Builder
	capturing := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", fmt.Errorf("no Habitat name found")
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			if !capturing && habitatName(stack) {
				capturing = true
				text.Reset()
			}
		case xml.CharData:
			if capturing {
				text.Write(t)
			}
		case xml.EndElement:
			if capturing && habitatName(stack) {
				if name := strings.TrimSpace(text.String()); len(name) > 0 {
					return name, nil
				}
				capturing = false
			}
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
}

// habitatName matches .../habitats/entry/.../Habitat/name.
func habitatName(stack []string) bool {
	n := len(stack)
	if n < 4 || stack[n-1] != "name" || stack[n-2] != "Habitat" {
		return false
	}
	for i := 0; i+1 < n-2; i++ {
		if stack[i] == "habitats" && stack[i+1] == "entry" {
			return true
		}
	}
	return false
}
