package config

// WorkspaceRunnerConfig configures one runner type at one level of the
// global/agent/workspace resolution hierarchy consumed by internal/runner.
type WorkspaceRunnerConfig struct {
	Type          string             `json:"type,omitempty"`
	MergeStrategy string             `json:"merge_strategy,omitempty"`
	Restrictions  *RunnerRestrictions `json:"restrictions,omitempty"`
}

// RunnerRestrictions describes the sandboxing restrictions applied to a
// spawned proxy or agent subprocess.
type RunnerRestrictions struct {
	AllowNetworking   *bool         `json:"allow_networking,omitempty"`
	AllowReadFolders  []string      `json:"allow_read_folders,omitempty"`
	AllowWriteFolders []string      `json:"allow_write_folders,omitempty"`
	DenyFolders       []string      `json:"deny_folders,omitempty"`
	MergeWithDefaults *bool         `json:"merge_with_defaults,omitempty"`
	Docker            *DockerConfig `json:"docker,omitempty"`
}

// DockerConfig configures the Docker-backed restricted runner.
type DockerConfig struct {
	Image       string `json:"image,omitempty"`
	MemoryLimit string `json:"memory_limit,omitempty"`
	CPULimit    string `json:"cpu_limit,omitempty"`
}
