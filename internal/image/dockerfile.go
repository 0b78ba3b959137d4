package image

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/savaki/gox/slicex"
)

// DockerfileSpec describes the minimal container the producer runs in.
type DockerfileSpec struct {
	BaseImage  string   // runtime base image
	Manifest   string   // dependency manifest copied before the source
	Install    string   // command installing dependencies from Manifest
	Source     string   // source directory copied into WorkDir
	WorkDir    string   // working directory inside the image
	Entrypoint []string // exec form entrypoint
}

// DefaultDockerfileSpec is the python producer layout.
func DefaultDockerfileSpec() DockerfileSpec {
	return DockerfileSpec{
		BaseImage:  "python:3.11-slim",
		Manifest:   "requirements.txt",
		Install:    "pip install --no-cache-dir -r requirements.txt",
		Source:     "src",
		WorkDir:    "/app",
		Entrypoint: []string{"python", "app.py"},
	}
}

var dockerfileTemplate = template.Must(template.New("Dockerfile").Funcs(template.FuncMap{
	"exec": execForm,
}).Parse(`FROM {{ .BaseImage }}

WORKDIR {{ .WorkDir }}

COPY {{ .Manifest }} .
RUN {{ .Install }}

COPY {{ .Source }}/ .

ENTRYPOINT {{ exec .Entrypoint }}
`))

// Dockerfile renders spec. Empty fields take their defaults.
func Dockerfile(spec DockerfileSpec) (string, error) {
	def := DefaultDockerfileSpec()
	if spec.BaseImage == "" {
		spec.BaseImage = def.BaseImage
	}
	if spec.Manifest == "" {
		spec.Manifest = def.Manifest
	}
	if spec.Install == "" {
		spec.Install = def.Install
	}
	if spec.Source == "" {
		spec.Source = def.Source
	}
	if spec.WorkDir == "" {
		spec.WorkDir = def.WorkDir
	}
	if len(spec.Entrypoint) == 0 {
		spec.Entrypoint = def.Entrypoint
	}

	var buf bytes.Buffer
	if err := dockerfileTemplate.Execute(&buf, spec); err != nil {
		return "", fmt.Errorf("failed to render Dockerfile: %w", err)
	}
	return buf.String(), nil
}

func execForm(args []string) string {
	quoted := slicex.Map(args, strconv.Quote)
	return "[" + strings.Join(quoted, ", ") + "]"
}
