package netenv

import (
	"os"
	"strings"
)

// Sandbox names the isolation layer the tool runs inside
type Sandbox string

const (
	SandboxNone       Sandbox = "none"
	SandboxKubernetes Sandbox = "kubernetes"
	SandboxPodman     Sandbox = "podman"
	SandboxDocker     Sandbox = "docker"
	SandboxLXC        Sandbox = "lxc"
	SandboxWSL        Sandbox = "wsl"
)

// signature defines detection criteria for a sandbox
type signature struct {
	sandbox Sandbox
	// files whose presence indicates the sandbox
	files []string
	// env variables set inside the sandbox
	env []string
	// markers found in /proc/1/cgroup
	cgroup []string
	// markers found in /proc/version
	kernel []string
	hints  []string
}

// signatures are ordered by specificity, first match wins
var signatures = []signature{
	{
		sandbox: SandboxKubernetes,
		files:   []string{"/var/run/secrets/kubernetes.io/serviceaccount/token"},
		env:     []string{"KUBERNETES_SERVICE_HOST"},
		hints: []string{
			"Pod networking rarely reaches the board's LAN; pass --address",
			"Serial ports are not visible inside a pod",
		},
	},
	{
		sandbox: SandboxPodman,
		files:   []string{"/run/.containerenv"},
		cgroup:  []string{"libpod-", "/libpod/"},
		hints: []string{
			"Pass the board with --device=/dev/ttyUSB0",
			"mDNS and LAN scans need --network=host",
		},
	},
	{
		sandbox: SandboxDocker,
		files:   []string{"/.dockerenv"},
		cgroup:  []string{"docker-", "/docker/"},
		hints: []string{
			"Pass the board with --device=/dev/ttyUSB0",
			"mDNS and LAN scans need --network=host",
		},
	},
	{
		sandbox: SandboxLXC,
		cgroup:  []string{"/lxc/", "lxc.payload"},
		hints:   []string{"Serial devices must be passed through to the container"},
	},
	{
		sandbox: SandboxWSL,
		env:     []string{"WSL_DISTRO_NAME"},
		kernel:  []string{"microsoft", "WSL"},
		hints: []string{
			"Attach the USB serial adapter with usbipd-win before flashing",
			"WSL2 NAT hides the LAN; enable mirrored networking or pass --address",
		},
	},
}

// HostReport describes the execution environment
type HostReport struct {
	Sandbox  Sandbox  `json:"sandbox" yaml:"sandbox"`
	Evidence []string `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	// Hints explain what the sandbox means for serial access and discovery
	Hints []string `json:"hints,omitempty" yaml:"hints,omitempty"`
}

// Probe reads host state; tests substitute a fixture
type Probe struct {
	ReadFile func(path string) (string, bool)
	Getenv   func(key string) string
}

// SystemProbe reads the real filesystem and environment
func SystemProbe() Probe {
	return Probe{
		ReadFile: func(path string) (string, bool) {
			data, err := os.ReadFile(path)
			if err != nil {
				if _, statErr := os.Stat(path); statErr == nil {
					return "", true
				}
				return "", false
			}
			return string(data), true
		},
		Getenv: os.Getenv,
	}
}

// DetectHost reports the sandbox the process runs in
func DetectHost() HostReport {
	return SystemProbe().Detect()
}

// Detect checks each signature in order
func (p Probe) Detect() HostReport {
	cgroup, _ := p.ReadFile("/proc/1/cgroup")
	kernel, _ := p.ReadFile("/proc/version")

	for _, sig := range signatures {
		var evidence []string
		for _, f := range sig.files {
			if _, ok := p.ReadFile(f); ok {
				evidence = append(evidence, "found "+f)
			}
		}
		for _, e := range sig.env {
			if p.Getenv(e) != "" {
				evidence = append(evidence, "env "+e+" set")
			}
		}
		for _, m := range sig.cgroup {
			if strings.Contains(cgroup, m) {
				evidence = append(evidence, "cgroup marker "+m)
			}
		}
		for _, m := range sig.kernel {
			if strings.Contains(kernel, m) {
				evidence = append(evidence, "kernel marker "+m)
			}
		}
		if len(evidence) > 0 {
			return HostReport{Sandbox: sig.sandbox, Evidence: evidence, Hints: sig.hints}
		}
	}
	return HostReport{Sandbox: SandboxNone}
}
