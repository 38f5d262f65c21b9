package registry

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"

	"github.com/nerrad567/vineyard-core/internal/infrastructure/database"
)

const deploymentColumns = "service_id, environment_id, state, version, endpoint, gateway"

// deploymentKey resolves and checks both halves of a deployment key.
func deploymentKey(serviceID, environmentID string) (svc, env int64, err error) {
	if svc, err = parseID("service", serviceID); err != nil {
		return 0, 0, err
	}
	if env, err = parseID("environment", environmentID); err != nil {
		return 0, 0, err
	}
	return svc, env, nil
}

func deploymentExists(ctx context.Context, q querier, serviceID, environmentID string, svc, env int64) error {
	return mustExist(ctx, q, "deployment", serviceID+":"+environmentID,
		"SELECT COUNT(*) FROM service_environment WHERE service_id = ? AND environment_id = ?", svc, env)
}

// Deploy records a service in an environment together with its initial
// metadata. An empty state defaults to REGISTERED. Service and environment
// must exist; a second deployment of the same pair fails with ErrDuplicate.
func (r *SQLRepository) Deploy(ctx context.Context, d *Deployment, meta Metadata) error {
	if d.State == "" {
		d.State = StateRegistered
	}
	if err := ValidateDeployment(d); err != nil {
		return err
	}
	svc, env, err := deploymentKey(d.ServiceID, d.EnvironmentID)
	if err != nil {
		return err
	}
	for k, v := range meta {
		if err := validateMetaKey(k); err != nil {
			return err
		}
		if err := checkLen("metadata value", v, maxText); err != nil {
			return err
		}
	}

	return r.write(ctx, "deploying service", func(tx *database.Tx) error {
		if err := mustExist(ctx, tx, "service", d.ServiceID, "SELECT COUNT(*) FROM service WHERE id = ?", svc); err != nil {
			return err
		}
		if err := mustExist(ctx, tx, "environment", d.EnvironmentID, "SELECT COUNT(*) FROM environment WHERE id = ?", env); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			"INSERT INTO service_environment ("+deploymentColumns+") VALUES (?, ?, ?, ?, ?, ?)",
			svc, env, string(d.State), nullString(d.Version), nullString(d.Endpoint), nullString(d.Gateway))
		if err != nil {
			return err
		}

		// Sorted for a deterministic statement order.
		for _, k := range slices.Sorted(maps.Keys(meta)) {
			if err := insertMeta(ctx, tx, svc, env, k, meta[k]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetDeployment returns the deployment of a service in an environment.
func (r *SQLRepository) GetDeployment(ctx context.Context, serviceID, environmentID string) (*Deployment, error) {
	svc, env, err := deploymentKey(serviceID, environmentID)
	if err != nil {
		return nil, err
	}
	return getDeployment(ctx, r.db, serviceID, environmentID, svc, env)
}

func getDeployment(ctx context.Context, q querier, serviceID, environmentID string, svc, env int64) (*Deployment, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+deploymentColumns+" FROM service_environment WHERE service_id = ? AND environment_id = ?",
		svc, env)
	d, err := scanDeployment(row)
	if err != nil {
		return nil, notFound(err, "deployment", serviceID+":"+environmentID)
	}
	return d, nil
}

// ListDeployments returns the deployments of one service.
func (r *SQLRepository) ListDeployments(ctx context.Context, serviceID string) ([]Deployment, error) {
	svc, err := parseID("service", serviceID)
	if err != nil {
		return nil, err
	}
	return r.queryDeployments(ctx,
		"SELECT "+deploymentColumns+" FROM service_environment WHERE service_id = ? ORDER BY environment_id", svc)
}

// ListAllDeployments returns every deployment.
func (r *SQLRepository) ListAllDeployments(ctx context.Context) ([]Deployment, error) {
	return r.queryDeployments(ctx,
		"SELECT "+deploymentColumns+" FROM service_environment ORDER BY service_id, environment_id")
}

// UpdateDeployment overwrites state, version and endpoint references.
func (r *SQLRepository) UpdateDeployment(ctx context.Context, d *Deployment) error {
	if err := ValidateDeployment(d); err != nil {
		return err
	}
	svc, env, err := deploymentKey(d.ServiceID, d.EnvironmentID)
	if err != nil {
		return err
	}
	return r.write(ctx, "updating deployment", func(tx *database.Tx) error {
		if err := deploymentExists(ctx, tx, d.ServiceID, d.EnvironmentID, svc, env); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE service_environment SET state = ?, version = ?, endpoint = ?, gateway = ?
			WHERE service_id = ? AND environment_id = ?`,
			string(d.State), nullString(d.Version), nullString(d.Endpoint), nullString(d.Gateway), svc, env)
		return err
	})
}

// SetDeploymentState changes only the lifecycle state.
func (r *SQLRepository) SetDeploymentState(ctx context.Context, serviceID, environmentID string, state DeploymentState) error {
	if !state.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, state)
	}
	svc, env, err := deploymentKey(serviceID, environmentID)
	if err != nil {
		return err
	}
	return r.write(ctx, "setting deployment state", func(tx *database.Tx) error {
		if err := deploymentExists(ctx, tx, serviceID, environmentID, svc, env); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE service_environment SET state = ? WHERE service_id = ? AND environment_id = ?",
			string(state), svc, env)
		return err
	})
}

// Undeploy removes a deployment, its metadata first.
func (r *SQLRepository) Undeploy(ctx context.Context, serviceID, environmentID string) error {
	svc, env, err := deploymentKey(serviceID, environmentID)
	if err != nil {
		return err
	}
	return r.write(ctx, "undeploying service", func(tx *database.Tx) error {
		if err := deploymentExists(ctx, tx, serviceID, environmentID, svc, env); err != nil {
			return err
		}
		return cascade(ctx, tx, "deployment "+serviceID+":"+environmentID, []string{
			"DELETE FROM service_environment_meta WHERE service_id = ? AND environment_id = ?",
			"DELETE FROM service_environment WHERE service_id = ? AND environment_id = ?",
		}, svc, env)
	})
}

func (r *SQLRepository) queryDeployments(ctx context.Context, query string, args ...any) ([]Deployment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("listing deployments", err)
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, classify("scanning deployment", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterating deployments", err)
	}
	return out, nil
}

func scanDeployment(s scanner) (*Deployment, error) {
	var d Deployment
	var svc, env int64
	var state string
	var version, endpoint, gateway sql.NullString
	if err := s.Scan(&svc, &env, &state, &version, &endpoint, &gateway); err != nil {
		return nil, err
	}
	d.ServiceID = formatID(svc)
	d.EnvironmentID = formatID(env)
	d.State = DeploymentState(state)
	d.Version = version.String
	d.Endpoint = endpoint.String
	d.Gateway = gateway.String
	return &d, nil
}
