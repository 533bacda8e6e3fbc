// Package provisioner drives the Terraform binary as a subprocess to create
// and destroy per-attendee cloud environments.
//
// Each attendee owns one workspace directory under the configured root,
// holding exactly two generated files (main.tf, terraform.tfvars) plus
// Terraform's own state. Cloud credentials are injected into the subprocess
// environment and never written to the generated files.
//
// All operations follow the boolean-plus-diagnostic contract: a non-zero
// exit, a timeout, or a missing binary yields (false, text), never a panic
// and never a fatal error.
package provisioner
