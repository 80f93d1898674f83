package images

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoDockerfile is returned when a source tree has no Dockerfile and no
// generator recognises its layout.
var ErrNoDockerfile = errors.New("no Dockerfile and no recognised project layout")

// DockerfileGenerator renders a Dockerfile for a source tree that lacks one.
// Generated files declare ARG ROOT_PATH and export it to the app.
type DockerfileGenerator interface {
	// Detect reports whether the generator recognises sourceDir.
	Detect(sourceDir string) bool
	Generate(sourceDir string) (string, error)
}

// generators in detection order.
var generators = []DockerfileGenerator{
	&PythonGenerator{Version: "3.12"},
	&NodeJSGenerator{Version: "20"},
}

// EnsureDockerfile writes a generated Dockerfile into sourceDir unless one is
// already present. It reports whether a file was generated.
func EnsureDockerfile(sourceDir string) (bool, error) {
	if fileExists(sourceDir, "Dockerfile") {
		return false, nil
	}
	for _, g := range generators {
		if !g.Detect(sourceDir) {
			continue
		}
		content, err := g.Generate(sourceDir)
		if err != nil {
			return false, err
		}
		if err := os.WriteFile(filepath.Join(sourceDir, "Dockerfile"), []byte(content), 0644); err != nil {
			return false, fmt.Errorf("write Dockerfile: %w", err)
		}
		return true, nil
	}
	return false, ErrNoDockerfile
}

// PythonGenerator generates Dockerfiles for Python applications
type PythonGenerator struct {
	Version string
}

func (g *PythonGenerator) Detect(sourceDir string) bool {
	for _, name := range []string{"requirements.txt", "pyproject.toml", "Pipfile", "main.py", "app.py"} {
		if fileExists(sourceDir, name) {
			return true
		}
	}
	return false
}

// DetectLockfile detects which Python dependency file is present
func (g *PythonGenerator) DetectLockfile(sourceDir string) (string, string) {
	lockfiles := []struct {
		name    string
		manager string
	}{
		{"poetry.lock", "poetry"},
		{"Pipfile.lock", "pipenv"},
		{"requirements.txt", "pip"},
	}

	for _, lf := range lockfiles {
		if fileExists(sourceDir, lf.name) {
			return lf.manager, lf.name
		}
	}
	return "", ""
}

func (g *PythonGenerator) Generate(sourceDir string) (string, error) {
	manager, _ := g.DetectLockfile(sourceDir)

	var install string
	switch manager {
	case "poetry":
		install = `COPY pyproject.toml poetry.lock ./
RUN pip install poetry && \
    poetry config virtualenvs.create false && \
    poetry install --only main --no-interaction --no-ansi
`
	case "pipenv":
		install = `COPY Pipfile Pipfile.lock ./
RUN pip install pipenv && \
    pipenv install --system --deploy --ignore-pipfile
`
	case "pip":
		cmd := "pip install --no-cache-dir -r requirements.txt"
		if requirementsHaveHashes(sourceDir) {
			cmd = "pip install --require-hashes --only-binary :all: -r requirements.txt"
		}
		install = "COPY requirements.txt ./\nRUN " + cmd + "\n"
	}

	entryPoint := firstExisting(sourceDir, []string{"main.py", "app.py", "run.py", "server.py", "src/main.py"}, "main.py")

	return fmt.Sprintf(`FROM python:%s-slim

ARG ROOT_PATH=/
ENV ROOT_PATH=${ROOT_PATH}

WORKDIR /app

%s
COPY . .

CMD ["python", "%s"]
`, g.Version, install, entryPoint), nil
}

// NodeJSGenerator generates Dockerfiles for Node.js applications
type NodeJSGenerator struct {
	Version string
}

func (g *NodeJSGenerator) Detect(sourceDir string) bool {
	return fileExists(sourceDir, "package.json")
}

// DetectLockfile detects which package manager lockfile is present
func (g *NodeJSGenerator) DetectLockfile(sourceDir string) (string, string) {
	lockfiles := []struct {
		name    string
		manager string
	}{
		{"pnpm-lock.yaml", "pnpm"},
		{"yarn.lock", "yarn"},
		{"package-lock.json", "npm"},
	}

	for _, lf := range lockfiles {
		if fileExists(sourceDir, lf.name) {
			return lf.manager, lf.name
		}
	}
	return "npm", ""
}

func (g *NodeJSGenerator) Generate(sourceDir string) (string, error) {
	if !g.Detect(sourceDir) {
		return "", fmt.Errorf("package.json not found in source directory")
	}
	manager, lockfile := g.DetectLockfile(sourceDir)

	var installCmd string
	switch manager {
	case "pnpm":
		installCmd = "corepack enable && pnpm install --frozen-lockfile"
	case "yarn":
		installCmd = "yarn install --frozen-lockfile"
	default:
		installCmd = "npm install"
		if lockfile != "" {
			installCmd = "npm ci"
		}
	}

	entryPoint := firstExisting(sourceDir, []string{"index.js", "src/index.js", "main.js", "app.js", "server.js"}, "index.js")

	return fmt.Sprintf(`FROM node:%s-alpine

ARG ROOT_PATH=/
ENV ROOT_PATH=${ROOT_PATH}

WORKDIR /app

COPY package.json %s ./
RUN %s

COPY . .

CMD ["node", "%s"]
`, g.Version, lockfile, installCmd, entryPoint), nil
}

func requirementsHaveHashes(sourceDir string) bool {
	data, err := os.ReadFile(filepath.Join(sourceDir, "requirements.txt"))
	if err != nil {
		return false
	}
	return strings.Contains(string(data), "--hash=")
}

func firstExisting(dir string, candidates []string, fallback string) string {
	for _, c := range candidates {
		if fileExists(dir, c) {
			return c
		}
	}
	return fallback
}

func fileExists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
