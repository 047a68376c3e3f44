package stack

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// NetworkName is the network every stack service joins.
const NetworkName = "app"

const restartPolicy = "unless-stopped"

// ServiceSpec is what the manifest must declare for one service.
type ServiceSpec struct {
	Name      string
	Image     string
	Ports     []Port
	Volume    string
	MountPath string
}

// Expected returns the services of the stack.
func Expected() []ServiceSpec {
	return []ServiceSpec{
		{
			Name:      "minio",
			Image:     "quay.io/minio/minio:RELEASE.2025-04-22T22-12-26Z",
			Ports:     []Port{{9000, 9000}, {9001, 9001}},
			Volume:    "minio_data",
			MountPath: "/data",
		},
		{
			Name:      "rabbitmq",
			Image:     "rabbitmq:4.1.0-management-alpine",
			Ports:     []Port{{5672, 5672}, {15672, 15672}},
			Volume:    "rabbitmq_data",
			MountPath: "/var/lib/rabbitmq",
		},
		{
			Name:      "postgres",
			Image:     "postgres:17.5-alpine",
			Ports:     []Port{{5432, 5432}},
			Volume:    "postgres_data",
			MountPath: "/var/lib/postgresql/data",
		},
		{
			Name:      "ollama",
			Image:     "ollama/ollama:0.9.2",
			Ports:     []Port{{11434, 11434}},
			Volume:    "ollama_data",
			MountPath: "/root/.ollama",
		},
		{
			Name:      "openwebui",
			Image:     "ghcr.io/open-webui/open-webui:v0.6.15",
			Ports:     []Port{{3000, 8080}},
			Volume:    "openwebui_data",
			MountPath: "/app/backend/data",
		},
	}
}

// Problem is one finding of Validate or CheckEnv.
type Problem struct {
	Service string
	Msg     string
}

func (p Problem) String() string {
	if p.Service == "" {
		return p.Msg
	}
	return p.Service + ": " + p.Msg
}

// Validate compares cfg with the expected services and returns what is
// missing or different. An empty result means the manifest matches.
func Validate(cfg *Config, expected []ServiceSpec) []Problem {
	var out []Problem
	add := func(svc, format string, args ...interface{}) {
		out = append(out, Problem{Service: svc, Msg: fmt.Sprintf(format, args...)})
	}

	if n, ok := cfg.Networks[NetworkName]; !ok {
		add("", "network %q is not declared", NetworkName)
	} else if n != nil && n.Driver != "" && n.Driver != "bridge" {
		add("", "network %q uses driver %q, want bridge", NetworkName, n.Driver)
	}

	for _, exp := range expected {
		svc, ok := cfg.Services[exp.Name]
		if !ok {
			add(exp.Name, "service is missing")
			continue
		}

		if svc.Image != exp.Image {
			add(exp.Name, "image is %q, want %q", svc.Image, exp.Image)
		}
		if svc.Restart != restartPolicy {
			add(exp.Name, "restart is %q, want %q", svc.Restart, restartPolicy)
		}

		ports, errs := svc.ports()
		for _, err := range errs {
			add(exp.Name, "%s", err.Error())
		}
		for _, want := range exp.Ports {
			if !containsPort(ports, want) {
				add(exp.Name, "port %d:%d is not published", want.Host, want.Container)
			}
		}

		if !hasMount(svc, exp.Volume, exp.MountPath) {
			add(exp.Name, "volume %s is not mounted at %s", exp.Volume, exp.MountPath)
		}
		if _, ok := cfg.Volumes[exp.Volume]; !ok {
			add(exp.Name, "named volume %s is not declared", exp.Volume)
		}

		if !contains(svc.Networks, NetworkName) {
			add(exp.Name, "not attached to network %q", NetworkName)
		}
	}
	return out
}

func containsPort(ports []Port, want Port) bool {
	for _, p := range ports {
		if p == want {
			return true
		}
	}
	return false
}

func hasMount(svc Service, volume, target string) bool {
	for _, v := range svc.Volumes {
		m, err := ParseMount(v)
		if err != nil {
			continue
		}
		if m.Source == volume && m.Target == target {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ${VAR}, ${VAR:-default}, ${VAR-default}, ${VAR:?err}, ${VAR?err}
var varRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:?[-?][^}]*)?\}`)

// ReferencedVars returns the variables interpolated in compose content.
// Variables with a default value are reported as optional.
func ReferencedVars(content []byte) (required, optional []string) {
	req := map[string]bool{}
	opt := map[string]bool{}
	for _, m := range varRe.FindAllSubmatch(content, -1) {
		name, mod := string(m[1]), string(m[2])
		if strings.HasPrefix(mod, "-") || strings.HasPrefix(mod, ":-") {
			opt[name] = true
			continue
		}
		req[name] = true
	}
	for n := range req {
		delete(opt, n)
	}
	return sortedKeys(req), sortedKeys(opt)
}

// CheckEnv reports required variables of the compose content that are
// absent or empty in the env file.
func CheckEnv(content []byte, envFile string) ([]Problem, error) {
	env, err := godotenv.Read(envFile)
	if err != nil {
		return nil, err
	}

	required, _ := ReferencedVars(content)
	var out []Problem
	for _, name := range required {
		if v, ok := env[name]; !ok || v == "" {
			out = append(out, Problem{Msg: fmt.Sprintf("%s is referenced but not set in %s", name, envFile)})
		}
	}
	return out, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
