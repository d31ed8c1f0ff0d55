// Package entities implements the HTTP handlers for the batch CRUD API over
// organizations, projects, branches, elements, artifacts, users and webhooks.
// Every collection endpoint accepts a single JSON object or an array of
// objects and always responds with an array; the singular /:id endpoints wrap
// the same controllers for one document at a time. Query parameters are
// normalized into controller options by the same parser that validates
// JSON-body options, so "?includeArchived=true&limit=10" and a decoded options
// map behave identically.
package entities

import (
	"github.com/lmco/mcf-sub003/internal/controllers"
)

// Handlers bundles the seven entity controllers behind the HTTP layer.
type Handlers struct {
	orgs      *controllers.Organizations
	projects  *controllers.Projects
	branches  *controllers.Branches
	elements  *controllers.Elements
	artifacts *controllers.Artifacts
	users     *controllers.Users
	webhooks  *controllers.Webhooks
}

// New wires the handler set over the given controllers.
func New(
	orgs *controllers.Organizations,
	projects *controllers.Projects,
	branches *controllers.Branches,
	elements *controllers.Elements,
	artifacts *controllers.Artifacts,
	users *controllers.Users,
	webhooks *controllers.Webhooks,
) *Handlers {
	return &Handlers{
		orgs:      orgs,
		projects:  projects,
		branches:  branches,
		elements:  elements,
		artifacts: artifacts,
		users:     users,
		webhooks:  webhooks,
	}
}
