package provisioner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/techlabs/labforge/pkg/orchestrator"
	"github.com/techlabs/labforge/pkg/telemetry"
)

// DefaultTimeout bounds a single Terraform invocation. Cloud project
// creation at the provider routinely takes many minutes.
const DefaultTimeout = 30 * time.Minute

// Environment variable names for the OVH provider credentials.
const (
	EnvOVHEndpoint          = "OVH_ENDPOINT"
	EnvOVHApplicationKey    = "OVH_APPLICATION_KEY"
	EnvOVHApplicationSecret = "OVH_APPLICATION_SECRET"
	EnvOVHConsumerKey       = "OVH_CONSUMER_KEY"
)

// Config configures the Terraform driver.
type Config struct {
	// BinaryPath is the Terraform executable.
	BinaryPath string `yaml:"binary_path" validate:"required"`

	// WorkspaceRoot is the directory holding all attendee workspaces.
	WorkspaceRoot string `yaml:"workspace_root" validate:"required"`

	// Timeout bounds a single invocation. Zero means DefaultTimeout.
	Timeout time.Duration `yaml:"timeout"`

	// Credentials are environment variables injected into every
	// invocation. They are never written to generated files.
	Credentials map[string]string `yaml:"-"`
}

// Driver runs Terraform against per-attendee workspace directories. It
// implements orchestrator.Provisioner.
type Driver struct {
	binary  string
	root    string
	timeout time.Duration
	creds   map[string]string
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewDriver creates a Terraform driver, ensuring the workspace root exists.
func NewDriver(cfg Config, logger *telemetry.Logger, metrics *telemetry.Metrics) (*Driver, error) {
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	logger = logger.NewComponentLogger("provisioner")

	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root %s: %w", cfg.WorkspaceRoot, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		logger.Warnf("terraform binary not found at %s, invocations will fail", cfg.BinaryPath)
	}

	return &Driver{
		binary:  cfg.BinaryPath,
		root:    cfg.WorkspaceRoot,
		timeout: timeout,
		creds:   cfg.Credentials,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// workspacePath resolves a workspace name under the root.
func (d *Driver) workspacePath(name string) string {
	return filepath.Join(d.root, name)
}

// run executes one Terraform command inside a workspace, returning the exit
// code plus captured stdout and stderr. Timeouts and missing binaries come
// back as exit code 1 with the reason in stderr.
func (d *Driver) run(ctx context.Context, workspace string, args ...string) (int, string, string) {
	logger := d.logger.WithWorkspace(workspace).WithField("args", args)
	timer := telemetry.NewTimer()
	operation := args[0]

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, d.binary, args...)
	cmd.Dir = d.workspacePath(workspace)

	env := os.Environ()
	for k, v := range d.creds {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	d.metrics.RecordProvisionerCall(operation, timer.Duration())

	switch {
	case err == nil:
		logger.Debugf("terraform %s completed in %s", operation, timer.Duration())
		return 0, stdout.String(), stderr.String()

	case runCtx.Err() == context.DeadlineExceeded:
		d.metrics.RecordProvisionerError(operation)
		logger.Errorf("terraform %s timed out after %s", operation, d.timeout)
		return 1, stdout.String(), fmt.Sprintf("command timed out after %s", d.timeout)

	default:
		d.metrics.RecordProvisionerError(operation)
		if exitErr, ok := err.(*exec.ExitError); ok {
			logger.Errorf("terraform %s exited with code %d", operation, exitErr.ExitCode())
			return exitErr.ExitCode(), stdout.String(), stderr.String()
		}
		// Binary missing or not executable
		logger.WithError(err).Errorf("terraform %s could not start", operation)
		return 1, stdout.String(), err.Error()
	}
}

// CreateWorkspace materializes the workspace directory, writes the generated
// configuration, and runs terraform init. A failed init leaves the directory
// in place for inspection.
func (d *Driver) CreateWorkspace(ctx context.Context, name string, cfg orchestrator.WorkspaceConfig) bool {
	logger := d.logger.WithWorkspace(name)
	path := d.workspacePath(name)

	if err := os.MkdirAll(path, 0o755); err != nil {
		logger.WithError(err).Error("failed to create workspace directory")
		return false
	}

	if err := os.WriteFile(filepath.Join(path, "main.tf"), []byte(GenerateMainTF(cfg)), 0o644); err != nil {
		logger.WithError(err).Error("failed to write main.tf")
		return false
	}
	if err := os.WriteFile(filepath.Join(path, "terraform.tfvars"), []byte(GenerateTFVars(cfg)), 0o644); err != nil {
		logger.WithError(err).Error("failed to write terraform.tfvars")
		return false
	}

	code, _, stderr := d.run(ctx, name, "init")
	if code != 0 {
		logger.Errorf("terraform init failed: %s", stderr)
		return false
	}

	logger.Info("workspace created and initialized")
	return true
}

// Plan computes the change set and serializes it to tfplan in the workspace.
// Parallelism is pinned to 1 to respect provider rate limits.
func (d *Driver) Plan(ctx context.Context, name string) (bool, string) {
	if !d.WorkspaceExists(name) {
		return false, "workspace does not exist"
	}
	code, stdout, stderr := d.run(ctx, name, "plan", "-out=tfplan", "-parallelism=1")
	return code == 0, stdout + stderr
}

// Apply applies exactly the previously planned change set.
func (d *Driver) Apply(ctx context.Context, name string) (bool, string) {
	if !d.WorkspaceExists(name) {
		return false, "workspace does not exist"
	}
	code, stdout, stderr := d.run(ctx, name, "apply", "-auto-approve", "-parallelism=1", "tfplan")
	return code == 0, stdout + stderr
}

// Destroy tears down every resource tracked by the workspace. An absent
// workspace tracks no resources, so destroying it is a success; teardown must
// converge even after an operator removed the directory by hand.
func (d *Driver) Destroy(ctx context.Context, name string) (bool, string) {
	if !d.WorkspaceExists(name) {
		return true, "no resources to destroy"
	}
	code, stdout, stderr := d.run(ctx, name, "destroy", "-auto-approve", "-parallelism=1")
	return code == 0, stdout + stderr
}

// Outputs returns the workspace's structured outputs. A missing workspace,
// failed invocation, or malformed JSON all yield an empty map.
func (d *Driver) Outputs(ctx context.Context, name string) map[string]orchestrator.OutputValue {
	if !d.WorkspaceExists(name) {
		return map[string]orchestrator.OutputValue{}
	}

	code, stdout, stderr := d.run(ctx, name, "output", "-json")
	if code != 0 {
		d.logger.WithWorkspace(name).Errorf("failed to read outputs: %s", stderr)
		return map[string]orchestrator.OutputValue{}
	}

	outputs := map[string]orchestrator.OutputValue{}
	if err := json.Unmarshal([]byte(stdout), &outputs); err != nil {
		d.logger.WithWorkspace(name).WithError(err).Error("malformed output JSON")
		return map[string]orchestrator.OutputValue{}
	}
	return outputs
}

// CleanupWorkspace removes the workspace directory. Removing an absent
// workspace is a success.
func (d *Driver) CleanupWorkspace(name string) bool {
	path := d.workspacePath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return true
	}
	if err := os.RemoveAll(path); err != nil {
		d.logger.WithWorkspace(name).WithError(err).Error("failed to remove workspace")
		return false
	}
	d.logger.WithWorkspace(name).Info("workspace removed")
	return true
}

// WorkspaceExists reports whether the workspace directory is present.
func (d *Driver) WorkspaceExists(name string) bool {
	info, err := os.Stat(d.workspacePath(name))
	return err == nil && info.IsDir()
}

// ListWorkspaces returns the names of every on-disk workspace.
func (d *Driver) ListWorkspaces() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace root: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// WorkspaceRoot returns the directory holding all workspaces.
func (d *Driver) WorkspaceRoot() string {
	return d.root
}
