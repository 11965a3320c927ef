package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/gantryhq/gantry/pkg/types"
)

var (
	// Bucket names
	bucketDeployments = []byte("deployments")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store at the given file path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDeployments); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketDeployments, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Healthy reports whether the database answers a read transaction
func (s *BoltStore) Healthy() error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

// SaveDeployment writes the whole document, creating or replacing it
func (s *BoltStore) SaveDeployment(d *types.Deployment) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		return b.Put([]byte(d.ID), data)
	})
	if err != nil {
		return types.WrapError(types.ErrStore, err, "failed to save deployment %s", d.ID)
	}
	return nil
}

// GetDeployment retrieves a deployment by ID
func (s *BoltStore) GetDeployment(id string) (*types.Deployment, error) {
	var d types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
		}
		return json.Unmarshal(data, &d)
	})
	if err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, types.WrapError(types.ErrStore, err, "failed to read deployment %s", id)
	}
	return &d, nil
}

// ListDeployments returns every stored deployment, newest first
func (s *BoltStore) ListDeployments() ([]*types.Deployment, error) {
	return s.list(func(*types.Deployment) bool { return true })
}

// ListDeploymentsByApplication returns an application's deployments, newest
// first
func (s *BoltStore) ListDeploymentsByApplication(application string) ([]*types.Deployment, error) {
	return s.list(func(d *types.Deployment) bool { return d.Application == application })
}

// ListIncompleteDeployments returns deployments without an end timestamp.
// The restart sweep uses this to find work interrupted by a crash.
func (s *BoltStore) ListIncompleteDeployments() ([]*types.Deployment, error) {
	return s.list(func(d *types.Deployment) bool { return d.End == nil })
}

func (s *BoltStore) list(match func(*types.Deployment) bool) ([]*types.Deployment, error) {
	var deployments []*types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		return b.ForEach(func(k, v []byte) error {
			var d types.Deployment
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if match(&d) {
				deployments = append(deployments, &d)
			}
			return nil
		})
	})
	if err != nil {
		return nil, types.WrapError(types.ErrStore, err, "failed to list deployments")
	}
	sort.Slice(deployments, func(i, j int) bool {
		return deployments[i].Created.After(deployments[j].Created)
	})
	return deployments, nil
}

// UpdateTask replaces one task inside a deployment document. The
// read-modify-write runs in a single transaction, so concurrent updates to
// different tasks of the same deployment never lose each other's writes.
func (s *BoltStore) UpdateTask(deploymentID string, task types.Task) error {
	err := s.mutate(deploymentID, func(d *types.Deployment) error {
		for i := range d.Tasks {
			if d.Tasks[i].ID == task.ID {
				d.Tasks[i] = task
				return nil
			}
		}
		return fmt.Errorf("task not found: %s", task.ID)
	})
	if err != nil {
		if isNotFound(err) {
			return err
		}
		return types.WrapError(types.ErrStore, err, "failed to update task %s of deployment %s", task.ID, deploymentID)
	}
	return nil
}

// MergeParameters layers new parameters over the stored ones and returns the
// updated document
func (s *BoltStore) MergeParameters(deploymentID string, params types.Parameters) (*types.Deployment, error) {
	var updated *types.Deployment
	err := s.mutate(deploymentID, func(d *types.Deployment) error {
		d.Parameters = types.MergeParameters(d.Parameters, params)
		updated = d
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, types.WrapError(types.ErrStore, err, "failed to merge parameters of deployment %s", deploymentID)
	}
	return updated, nil
}

// mutate runs fn against the stored document inside one write transaction
func (s *BoltStore) mutate(id string, fn func(*types.Deployment) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
		}
		var d types.Deployment
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		if err := fn(&d); err != nil {
			return err
		}
		out, err := json.Marshal(&d)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrDeploymentNotFound)
}
