package stack

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/require"
)

const manifest = "../../docker-compose.yml"

func TestRepositoryManifest(t *testing.T) {
	cfg, err := Load(manifest)
	require.NoError(t, err)
	require.Equal(t, []string{"minio", "ollama", "openwebui", "postgres", "rabbitmq"}, cfg.ServiceNames())
	require.Empty(t, Validate(cfg, Expected()))

	user, ok := cfg.Services["rabbitmq"].Environment.Lookup("RABBITMQ_DEFAULT_USER")
	require.True(t, ok)
	require.Equal(t, "${RABBITMQ_USER}", user)

	host, ok := cfg.Services["ollama"].Environment.Lookup("OLLAMA_HOST")
	require.True(t, ok)
	require.Equal(t, "0.0.0.0", host)
}

func TestRepositoryEnvExample(t *testing.T) {
	content, err := os.ReadFile(manifest)
	require.NoError(t, err)

	problems, err := CheckEnv(content, "../../.env.example")
	require.NoError(t, err)
	require.Empty(t, problems)
}

func TestValidateReportsDifferences(t *testing.T) {
	cfg, err := Parse([]byte(`
services:
  minio:
    image: quay.io/minio/minio:latest
    restart: always
    ports: ["9000:9000"]
    volumes: ["/srv/minio:/data"]
  postgres:
    image: postgres:17.5-alpine
    restart: unless-stopped
    ports: ["127.0.0.1:5432:5432/tcp"]
    volumes: ["postgres_data:/var/lib/postgresql/data"]
    networks: [app]
volumes:
  postgres_data:
`))
	require.NoError(t, err)

	var got []string
	for _, p := range Validate(cfg, Expected()[:3]) {
		got = append(got, p.String())
	}
	require.Equal(t, []string{
		`network "app" is not declared`,
		`minio: image is "quay.io/minio/minio:latest", want "quay.io/minio/minio:RELEASE.2025-04-22T22-12-26Z"`,
		`minio: restart is "always", want "unless-stopped"`,
		`minio: port 9001:9001 is not published`,
		`minio: volume minio_data is not mounted at /data`,
		`minio: named volume minio_data is not declared`,
		`minio: not attached to network "app"`,
		`rabbitmq: service is missing`,
	}, got)
}

func TestMapOrArray(t *testing.T) {
	cfg, err := Parse([]byte(`
services:
  a:
    environment:
      B: "2"
      A: one
      EMPTY:
  b:
    environment:
      - X=1
      - Y
`))
	require.NoError(t, err)
	require.Equal(t, MapOrArray{"A=one", "B=2", "EMPTY"}, cfg.Services["a"].Environment)
	require.Equal(t, MapOrArray{"X=1", "Y"}, cfg.Services["b"].Environment)

	_, err = Parse([]byte("services:\n  a:\n    environment: 3\n"))
	require.Error(t, err)
}

func TestParsePort(t *testing.T) {
	p, err := ParsePort("3000:8080")
	require.NoError(t, err)
	require.Equal(t, Port{3000, 8080}, p)

	p, err = ParsePort("0.0.0.0:5672:5672/tcp")
	require.NoError(t, err)
	require.Equal(t, Port{5672, 5672}, p)

	_, err = ParsePort("8080")
	require.Error(t, err)
	_, err = ParsePort("${PORT}:80")
	require.Error(t, err)
}

func TestReferencedVars(t *testing.T) {
	req, opt := ReferencedVars([]byte(`a: ${A}
b: ${B:-x}
c: ${C?must be set}
d: ${D-}
e: ${A:-dup}
`))
	require.Equal(t, []string{"A", "C"}, req)
	require.Equal(t, []string{"B", "D"}, opt)
}

func TestCheckEnvMissing(t *testing.T) {
	env := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(env, []byte("A=1\nC=\n"), 0o600))

	problems, err := CheckEnv([]byte("x: ${A}\ny: ${C}\nz: ${Z}\n"), env)
	require.NoError(t, err)
	require.Len(t, problems, 2)
	require.Contains(t, problems[0].Msg, "C is referenced")
	require.Contains(t, problems[1].Msg, "Z is referenced")

	_, err = CheckEnv(nil, filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close() //nolint:errcheck
	open := ln.Addr().(*net.TCPAddr).Port

	// grab a port and release it so nothing listens there
	ln2, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closed := ln2.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln2.Close())

	res := Probe(context.Background(), "127.0.0.1", []ServiceSpec{
		{Name: "up", Ports: []Port{{open, 1}}},
		{Name: "down", Ports: []Port{{closed, 1}}},
	}, 2*time.Second)

	require.Len(t, res, 2)
	require.Equal(t, "up", res[0].Service)
	require.NoError(t, res[0].Err)
	require.Equal(t, "down", res[1].Service)
	require.Error(t, res[1].Err)
}

type fakeLister struct {
	opts container.ListOptions
}

func (f *fakeLister) ContainerList(_ context.Context, opts container.ListOptions) ([]types.Container, error) {
	f.opts = opts
	return []types.Container{{
		ID:     "0123456789abcdef",
		Names:  []string{"/ragflow-minio-1"},
		Image:  "quay.io/minio/minio:RELEASE.2025-04-22T22-12-26Z",
		State:  "running",
		Status: "Up 2 hours",
		Labels: map[string]string{"com.docker.compose.service": "minio"},
	}}, nil
}

func TestPs(t *testing.T) {
	f := &fakeLister{}
	out, err := Ps(context.Background(), f, "ragflow")
	require.NoError(t, err)

	require.True(t, f.opts.All)
	require.Equal(t, []string{"com.docker.compose.project=ragflow"}, f.opts.Filters.Get("label"))

	require.Equal(t, []Container{{
		ID:      "0123456789ab",
		Name:    "ragflow-minio-1",
		Service: "minio",
		Image:   "quay.io/minio/minio:RELEASE.2025-04-22T22-12-26Z",
		State:   "running",
		Status:  "Up 2 hours",
	}}, out)
}
