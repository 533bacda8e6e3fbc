package provisioner

import (
	"fmt"
	"strings"

	"github.com/techlabs/labforge/pkg/orchestrator"
)

// mainTFTemplate declares one attendee environment: an OVH public cloud
// project, an unprivileged IAM user, and a policy granting the user full
// access to the project. Provider credentials come from the process
// environment (OVH_APPLICATION_KEY and friends), never from this file.
const mainTFTemplate = `terraform {
  required_providers {
    ovh = {
      source = "ovh/ovh"
    }
  }
}

provider "ovh" {
  endpoint = "ovh-eu"
}

variable "project_description" {
  type = string
}

variable "username" {
  type = string
}

variable "user_email" {
  type = string
}

locals {
  # OVH resource names allow alphanumerics, -, /, _ and + only
  sanitized_username = lower(replace(replace(replace(var.username, ".", "-"), " ", "-"), "@", "-at-"))
}

data "ovh_me" "myaccount" {}

data "ovh_order_cart" "mycart" {
  ovh_subsidiary = data.ovh_me.myaccount.ovh_subsidiary
}

data "ovh_order_cart_product_plan" "cloud" {
  cart_id        = data.ovh_order_cart.mycart.id
  price_capacity = "renew"
  product        = "cloud"
  plan_code      = "project.2018"
}

resource "ovh_cloud_project" "workshop_project" {
  ovh_subsidiary = data.ovh_order_cart.mycart.ovh_subsidiary
  description    = var.project_description

  plan {
    duration     = data.ovh_order_cart_product_plan.cloud.selected_price.0.duration
    plan_code    = data.ovh_order_cart_product_plan.cloud.plan_code
    pricing_mode = data.ovh_order_cart_product_plan.cloud.selected_price.0.pricing_mode
  }
}

resource "ovh_me_identity_user" "workshop_user" {
  description = var.username
  email       = var.user_email
  group       = "UNPRIVILEGED"
  login       = var.username
  password    = "TempPassword123!" # rotated on first login
}

resource "ovh_iam_policy" "workshop_policy" {
  name        = "access-grant-for-pci-project-${local.sanitized_username}"
  description = "Grants access to ${var.username} for PCI project ${ovh_cloud_project.workshop_project.project_id}"
  identities  = [ovh_me_identity_user.workshop_user.urn]
  resources   = [ovh_cloud_project.workshop_project.urn]
  allow       = ["*"]
}

output "project_id" {
  value = ovh_cloud_project.workshop_project.project_id
}

output "project_urn" {
  value = ovh_cloud_project.workshop_project.urn
}

output "user_urn" {
  value = ovh_me_identity_user.workshop_user.urn
}

output "username" {
  value = ovh_me_identity_user.workshop_user.login
}

output "password" {
  value     = ovh_me_identity_user.workshop_user.password
  sensitive = true
}
`

// GenerateMainTF returns the resource declaration for one attendee
// environment. Pure function: same input, same text.
func GenerateMainTF(cfg orchestrator.WorkspaceConfig) string {
	return mainTFTemplate
}

// GenerateTFVars returns the variable assignments for one attendee
// environment. Only non-credential variables appear here.
func GenerateTFVars(cfg orchestrator.WorkspaceConfig) string {
	description := cfg.ProjectDescription
	if description == "" {
		description = "TechLabs environment"
	}
	username := cfg.Username
	if username == "" {
		username = "workshop-user"
	}
	email := cfg.Email
	if email == "" {
		email = "workshop@example.com"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "project_description = %q\n", description)
	fmt.Fprintf(&b, "username            = %q\n", username)
	fmt.Fprintf(&b, "user_email          = %q\n", email)
	return b.String()
}
