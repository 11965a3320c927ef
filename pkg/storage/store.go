package storage

import (
	"errors"

	"github.com/gantryhq/gantry/pkg/types"
)

// ErrDeploymentNotFound is returned when an ID has no stored document
var ErrDeploymentNotFound = errors.New("deployment not found")

// Store defines the interface for deployment history storage.
// This will be implemented by BoltDB-backed storage.
type Store interface {
	// Deployments
	SaveDeployment(d *types.Deployment) error
	GetDeployment(id string) (*types.Deployment, error)
	ListDeployments() ([]*types.Deployment, error)
	ListDeploymentsByApplication(application string) ([]*types.Deployment, error)
	ListIncompleteDeployments() ([]*types.Deployment, error)

	// Partial updates, atomic per call
	UpdateTask(deploymentID string, task types.Task) error
	MergeParameters(deploymentID string, params types.Parameters) (*types.Deployment, error)

	// Utility
	Close() error
}
