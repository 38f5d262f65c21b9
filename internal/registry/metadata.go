package registry

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"

	"github.com/nerrad567/vineyard-core/internal/infrastructure/database"
)

// MetaAPIRef is the metadata key through which a deployment publishes an
// API. APIs, services and environments referenced this way refuse deletion.
const MetaAPIRef = "api.id"

// SetMetadata creates or replaces one metadata entry of a deployment.
func (r *SQLRepository) SetMetadata(ctx context.Context, serviceID, environmentID, key, value string) error {
	if err := validateMetaKey(key); err != nil {
		return err
	}
	if err := checkLen("metadata value", value, maxText); err != nil {
		return err
	}
	svc, env, err := deploymentKey(serviceID, environmentID)
	if err != nil {
		return err
	}
	return r.write(ctx, "setting metadata", func(tx *database.Tx) error {
		if err := deploymentExists(ctx, tx, serviceID, environmentID, svc, env); err != nil {
			return err
		}
		return upsertMeta(ctx, tx, svc, env, key, value)
	})
}

// GetMetadata returns one metadata value.
func (r *SQLRepository) GetMetadata(ctx context.Context, serviceID, environmentID, key string) (string, error) {
	svc, env, err := deploymentKey(serviceID, environmentID)
	if err != nil {
		return "", err
	}
	var value sql.NullString
	err = r.db.QueryRowContext(ctx,
		"SELECT meta_value FROM service_environment_meta WHERE service_id = ? AND environment_id = ? AND meta_key = ?",
		svc, env, key,
	).Scan(&value)
	if err != nil {
		return "", notFound(err, "metadata", serviceID+":"+environmentID+"/"+key)
	}
	return value.String, nil
}

// ListMetadata returns all metadata of a deployment. A deployment without
// metadata yields an empty, non-nil map.
func (r *SQLRepository) ListMetadata(ctx context.Context, serviceID, environmentID string) (Metadata, error) {
	svc, env, err := deploymentKey(serviceID, environmentID)
	if err != nil {
		return nil, err
	}
	if err := deploymentExists(ctx, r.db, serviceID, environmentID, svc, env); err != nil {
		return nil, classify("listing metadata", err)
	}
	meta, err := loadMeta(ctx, r.db, svc, env)
	if err != nil {
		return nil, classify("listing metadata", err)
	}
	return meta, nil
}

// DeleteMetadata removes one metadata entry.
func (r *SQLRepository) DeleteMetadata(ctx context.Context, serviceID, environmentID, key string) error {
	svc, env, err := deploymentKey(serviceID, environmentID)
	if err != nil {
		return err
	}
	return r.write(ctx, "deleting metadata", func(tx *database.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM service_environment_meta WHERE service_id = ? AND environment_id = ? AND meta_key = ?",
			svc, env, key)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // all drivers report affected rows
			return fmt.Errorf("%w: metadata %s:%s/%s", ErrNotFound, serviceID, environmentID, key)
		}
		return nil
	})
}

// MutateMetadata reads the metadata of a deployment, passes a copy to fn and
// writes back the difference, all in one transaction. An error from fn
// aborts without writing.
func (r *SQLRepository) MutateMetadata(ctx context.Context, serviceID, environmentID string, fn func(Metadata) error) error {
	svc, env, err := deploymentKey(serviceID, environmentID)
	if err != nil {
		return err
	}
	return r.write(ctx, "mutating metadata", func(tx *database.Tx) error {
		if err := deploymentExists(ctx, tx, serviceID, environmentID, svc, env); err != nil {
			return err
		}
		before, err := loadMeta(ctx, tx, svc, env)
		if err != nil {
			return err
		}

		after := before.Clone()
		if err := fn(after); err != nil {
			return err
		}

		for _, k := range slices.Sorted(maps.Keys(before)) {
			if _, kept := after[k]; kept {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM service_environment_meta WHERE service_id = ? AND environment_id = ? AND meta_key = ?",
				svc, env, k); err != nil {
				return err
			}
		}
		for _, k := range slices.Sorted(maps.Keys(after)) {
			v := after[k]
			old, had := before[k]
			if had && old == v {
				continue
			}
			if err := validateMetaKey(k); err != nil {
				return err
			}
			if err := checkLen("metadata value", v, maxText); err != nil {
				return err
			}
			if had {
				err = updateMeta(ctx, tx, svc, env, k, v)
			} else {
				err = insertMeta(ctx, tx, svc, env, k, v)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// FindDeploymentsByMetadata returns deployments carrying key=value.
func (r *SQLRepository) FindDeploymentsByMetadata(ctx context.Context, key, value string) ([]Deployment, error) {
	return r.queryDeployments(ctx,
		`SELECT se.service_id, se.environment_id, se.state, se.version, se.endpoint, se.gateway
		FROM service_environment se
		JOIN service_environment_meta m
			ON m.service_id = se.service_id AND m.environment_id = se.environment_id
		WHERE m.meta_key = ? AND m.meta_value = ?
		ORDER BY se.service_id, se.environment_id`,
		key, value)
}

func loadMeta(ctx context.Context, q querier, svc, env int64) (Metadata, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT meta_key, meta_value FROM service_environment_meta WHERE service_id = ? AND environment_id = ?",
		svc, env)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := Metadata{}
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v.String
	}
	return meta, rows.Err()
}

func insertMeta(ctx context.Context, tx *database.Tx, svc, env int64, key, value string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO service_environment_meta (service_id, environment_id, meta_key, meta_value) VALUES (?, ?, ?, ?)",
		svc, env, key, value)
	return err
}

func updateMeta(ctx context.Context, tx *database.Tx, svc, env int64, key, value string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE service_environment_meta SET meta_value = ? WHERE service_id = ? AND environment_id = ? AND meta_key = ?",
		value, svc, env, key)
	return err
}

// upsertMeta checks for the key first. UPDATE row counts are not portable:
// MySQL reports zero when the value is unchanged.
func upsertMeta(ctx context.Context, tx *database.Tx, svc, env int64, key, value string) error {
	present, err := exists(ctx, tx,
		"SELECT COUNT(*) FROM service_environment_meta WHERE service_id = ? AND environment_id = ? AND meta_key = ?",
		svc, env, key)
	if err != nil {
		return err
	}
	if present {
		return updateMeta(ctx, tx, svc, env, key, value)
	}
	return insertMeta(ctx, tx, svc, env, key, value)
}
