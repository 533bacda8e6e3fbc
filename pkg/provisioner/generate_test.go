package provisioner

import (
	"strings"
	"testing"

	"github.com/techlabs/labforge/pkg/orchestrator"
)

// TestGenerateTFVars tests variable rendering and defaults
func TestGenerateTFVars(t *testing.T) {
	got := GenerateTFVars(orchestrator.WorkspaceConfig{
		ProjectDescription: "Go Workshop 2026",
		Username:           "0541-8821-89/workshop-user",
		Email:              "alice@example.com",
	})
	for _, want := range []string{
		`project_description = "Go Workshop 2026"`,
		`username            = "0541-8821-89/workshop-user"`,
		`user_email          = "alice@example.com"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in:\n%s", want, got)
		}
	}
}

// TestGenerateTFVarsDefaults tests fallback values for empty fields
func TestGenerateTFVarsDefaults(t *testing.T) {
	got := GenerateTFVars(orchestrator.WorkspaceConfig{})
	for _, want := range []string{
		`project_description = "TechLabs environment"`,
		`username            = "workshop-user"`,
		`user_email          = "workshop@example.com"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in:\n%s", want, got)
		}
	}
}

// TestGenerateTFVarsQuoting tests escaping of special characters
func TestGenerateTFVarsQuoting(t *testing.T) {
	got := GenerateTFVars(orchestrator.WorkspaceConfig{
		ProjectDescription: `Env for "Alice" \ Bob`,
		Username:           "u",
		Email:              "u@example.com",
	})
	if !strings.Contains(got, `project_description = "Env for \"Alice\" \\ Bob"`) {
		t.Errorf("quotes and backslashes must be escaped, got:\n%s", got)
	}
}

// TestGenerateMainTF tests the generated resource declaration
func TestGenerateMainTF(t *testing.T) {
	got := GenerateMainTF(orchestrator.WorkspaceConfig{Username: "alice"})

	for _, want := range []string{
		`resource "ovh_cloud_project" "workshop_project"`,
		`resource "ovh_me_identity_user" "workshop_user"`,
		`resource "ovh_iam_policy" "workshop_policy"`,
		`output "project_id"`,
		`output "project_urn"`,
		`output "user_urn"`,
		`output "username"`,
		`output "password"`,
		"sensitive = true",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in generated main.tf", want)
		}
	}

	// Credentials live in the process environment only
	if strings.Contains(got, "application_key") || strings.Contains(got, "consumer_key") {
		t.Error("generated configuration must not reference provider credentials")
	}
}
