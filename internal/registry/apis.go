package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/vineyard-core/internal/catalog"
	"github.com/nerrad567/vineyard-core/internal/infrastructure/database"
)

// AddPolicy inserts a policy under a fresh ID.
func (r *SQLRepository) AddPolicy(ctx context.Context, p *catalog.Policy) error {
	if err := checkLen("definition", p.Definition, maxText); err != nil {
		return err
	}
	id := catalog.NewID()
	err := r.write(ctx, "adding policy", func(tx *database.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO policy (id, definition) VALUES (?, ?)", id, nullString(p.Definition))
		return err
	})
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

// UpdatePolicy replaces a policy definition.
func (r *SQLRepository) UpdatePolicy(ctx context.Context, p *catalog.Policy) error {
	if err := checkLen("definition", p.Definition, maxText); err != nil {
		return err
	}
	return r.write(ctx, "updating policy", func(tx *database.Tx) error {
		if err := mustExist(ctx, tx, "policy", p.ID, "SELECT COUNT(*) FROM policy WHERE id = ?", p.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "UPDATE policy SET definition = ? WHERE id = ?", nullString(p.Definition), p.ID)
		return err
	})
}

// DeletePolicy detaches a policy from every resource, then removes it.
func (r *SQLRepository) DeletePolicy(ctx context.Context, id string) error {
	return r.write(ctx, "deleting policy", func(tx *database.Tx) error {
		if err := mustExist(ctx, tx, "policy", id, "SELECT COUNT(*) FROM policy WHERE id = ?", id); err != nil {
			return err
		}
		return cascade(ctx, tx, "policy "+id, []string{
			"DELETE FROM resource_policy WHERE policy_id = ?",
			"DELETE FROM policy WHERE id = ?",
		}, id)
	})
}

// GetPolicy returns a policy by ID.
func (r *SQLRepository) GetPolicy(ctx context.Context, id string) (*catalog.Policy, error) {
	var p catalog.Policy
	var def sql.NullString
	err := r.db.QueryRowContext(ctx, "SELECT id, definition FROM policy WHERE id = ?", id).Scan(&p.ID, &def)
	if err != nil {
		return nil, notFound(err, "policy", id)
	}
	p.Definition = def.String
	return &p, nil
}

// ListPolicies returns all policies ordered by ID.
func (r *SQLRepository) ListPolicies(ctx context.Context) ([]catalog.Policy, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, definition FROM policy ORDER BY id")
	if err != nil {
		return nil, classify("listing policies", err)
	}
	defer rows.Close()

	var out []catalog.Policy
	for rows.Next() {
		var p catalog.Policy
		var def sql.NullString
		if err := rows.Scan(&p.ID, &def); err != nil {
			return nil, classify("scanning policy", err)
		}
		p.Definition = def.String
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterating policies", err)
	}
	return out, nil
}

// AddAPI validates and stores an API with its resources and policy links.
// The API gets a fresh ID; resources keep IDs assigned by the aggregate.
// A context already in use fails with ErrDuplicateContext.
func (r *SQLRepository) AddAPI(ctx context.Context, api *catalog.API) error {
	if err := api.Validate(); err != nil {
		return err
	}

	staged := api.DeepCopy()
	staged.ID = catalog.NewID()
	for i := range staged.Resources {
		if staged.Resources[i].ID == "" {
			staged.Resources[i].ID = catalog.NewID()
		}
		staged.Resources[i].APIID = staged.ID
	}

	err := r.write(ctx, "adding api", func(tx *database.Tx) error {
		if err := checkContextFree(ctx, tx, staged.Context, ""); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO api (id, name, context, description) VALUES (?, ?, ?, ?)",
			staged.ID, staged.Name, staged.Context, nullString(staged.Description))
		if err != nil {
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateContext, staged.Context)
			}
			return err
		}
		return insertResources(ctx, tx, staged)
	})
	if err != nil {
		return err
	}

	*api = *staged
	return nil
}

// UpdateAPI flushes the in-memory aggregate: API fields, the resource list
// in its current order and every policy link. Resource types present in the
// stored API must not change, and an API a registration publishes is
// refused with ErrConflict since its handlers hold the old resources.
func (r *SQLRepository) UpdateAPI(ctx context.Context, api *catalog.API) error {
	if api.ID == "" {
		return fmt.Errorf("%w: api id is required", ErrNotFound)
	}
	if err := api.Validate(); err != nil {
		return err
	}

	staged := api.DeepCopy()
	for i := range staged.Resources {
		if staged.Resources[i].ID == "" {
			staged.Resources[i].ID = catalog.NewID()
		}
		staged.Resources[i].APIID = staged.ID
	}

	err := r.write(ctx, "updating api", func(tx *database.Tx) error {
		previous, err := loadAPI(ctx, tx, staged.ID)
		if err != nil {
			return err
		}
		if err := staged.CheckTypes(previous); err != nil {
			return err
		}
		if err := unreferenced(ctx, tx, "api "+staged.ID,
			"SELECT COUNT(*) FROM service_environment_meta WHERE meta_key = ? AND meta_value = ?",
			MetaAPIRef, staged.ID); err != nil {
			return err
		}
		if err := checkContextFree(ctx, tx, staged.Context, staged.ID); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE api SET name = ?, context = ?, description = ? WHERE id = ?",
			staged.Name, staged.Context, nullString(staged.Description), staged.ID)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateContext, staged.Context)
			}
			return err
		}

		if err := deleteResources(ctx, tx, staged.ID); err != nil {
			return err
		}
		return insertResources(ctx, tx, staged)
	})
	if err != nil {
		return err
	}

	*api = *staged
	return nil
}

// DeleteAPI removes an API, its resources and their policy links.
// Policies themselves are kept. An API still published by a registration
// is refused with ErrConflict.
func (r *SQLRepository) DeleteAPI(ctx context.Context, id string) error {
	return r.write(ctx, "deleting api", func(tx *database.Tx) error {
		if err := mustExist(ctx, tx, "api", id, "SELECT COUNT(*) FROM api WHERE id = ?", id); err != nil {
			return err
		}
		if err := unreferenced(ctx, tx, "api "+id,
			"SELECT COUNT(*) FROM service_environment_meta WHERE meta_key = ? AND meta_value = ?",
			MetaAPIRef, id); err != nil {
			return err
		}
		if err := deleteResources(ctx, tx, id); err != nil {
			return fmt.Errorf("%w: deleting api %s: %w", ErrConflict, id, err)
		}
		return cascade(ctx, tx, "api "+id, []string{"DELETE FROM api WHERE id = ?"}, id)
	})
}

// GetAPI loads an API with its resources in order and their policy IDs.
func (r *SQLRepository) GetAPI(ctx context.Context, id string) (*catalog.API, error) {
	api, err := loadAPI(ctx, r.db, id)
	if err != nil {
		return nil, classify("reading api", err)
	}
	return api, nil
}

// ListAPIs returns every API fully loaded, ordered by context.
func (r *SQLRepository) ListAPIs(ctx context.Context) ([]catalog.API, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM api ORDER BY context")
	if err != nil {
		return nil, classify("listing apis", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close() //nolint:errcheck // scan error takes precedence
			return nil, classify("scanning api", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close() //nolint:errcheck // iteration error takes precedence
		return nil, classify("iterating apis", err)
	}
	rows.Close() //nolint:errcheck // fully consumed

	apis := make([]catalog.API, 0, len(ids))
	for _, id := range ids {
		api, err := loadAPI(ctx, r.db, id)
		if errors.Is(err, ErrNotFound) {
			continue // deleted since the id scan
		}
		if err != nil {
			return nil, classify("loading api", err)
		}
		apis = append(apis, *api)
	}
	return apis, nil
}

// checkContextFree reports ErrDuplicateContext when another API owns path.
func checkContextFree(ctx context.Context, q querier, path, selfID string) error {
	taken, err := exists(ctx, q, "SELECT COUNT(*) FROM api WHERE context = ? AND id <> ?", path, selfID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: %s", ErrDuplicateContext, path)
	}
	return nil
}

func insertResources(ctx context.Context, tx *database.Tx, api *catalog.API) error {
	for i := range api.Resources {
		res := &api.Resources[i]
		attrs, err := catalog.EncodeAttributes(res)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO api_resource (id, api_id, ordinal, type, description, attributes) VALUES (?, ?, ?, ?, ?, ?)",
			res.ID, api.ID, i, res.Type, nullString(res.Description), attrs)
		if err != nil {
			return fmt.Errorf("inserting resource %s: %w", res.ID, err)
		}
		for _, pid := range res.PolicyIDs {
			if err := mustExist(ctx, tx, "policy", pid, "SELECT COUNT(*) FROM policy WHERE id = ?", pid); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO resource_policy (resource_id, policy_id) VALUES (?, ?)", res.ID, pid)
			if err != nil {
				return fmt.Errorf("attaching policy %s to %s: %w", pid, res.ID, err)
			}
		}
	}
	return nil
}

func deleteResources(ctx context.Context, tx *database.Tx, apiID string) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM resource_policy WHERE resource_id IN (SELECT id FROM api_resource WHERE api_id = ?)",
		apiID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, "DELETE FROM api_resource WHERE api_id = ?", apiID)
	return err
}

func loadAPI(ctx context.Context, q querier, id string) (*catalog.API, error) {
	var api catalog.API
	var desc sql.NullString
	err := q.QueryRowContext(ctx,
		"SELECT id, name, context, description FROM api WHERE id = ?", id,
	).Scan(&api.ID, &api.Name, &api.Context, &desc)
	if err != nil {
		return nil, notFound(err, "api", id)
	}
	api.Description = desc.String

	rows, err := q.QueryContext(ctx,
		"SELECT id, type, description, attributes FROM api_resource WHERE api_id = ? ORDER BY ordinal", id)
	if err != nil {
		return nil, err
	}
	index := map[string]int{}
	for rows.Next() {
		res := catalog.Resource{APIID: id}
		var rdesc, attrs sql.NullString
		if err := rows.Scan(&res.ID, &res.Type, &rdesc, &attrs); err != nil {
			rows.Close() //nolint:errcheck // scan error takes precedence
			return nil, err
		}
		res.Description = rdesc.String
		if err := catalog.DecodeAttributes(&res, attrs.String); err != nil {
			rows.Close() //nolint:errcheck // decode error takes precedence
			return nil, err
		}
		index[res.ID] = len(api.Resources)
		api.Resources = append(api.Resources, res)
	}
	if err := rows.Err(); err != nil {
		rows.Close() //nolint:errcheck // iteration error takes precedence
		return nil, err
	}
	rows.Close() //nolint:errcheck // fully consumed

	links, err := q.QueryContext(ctx,
		`SELECT rp.resource_id, rp.policy_id FROM resource_policy rp
		JOIN api_resource r ON r.id = rp.resource_id
		WHERE r.api_id = ? ORDER BY rp.resource_id, rp.policy_id`, id)
	if err != nil {
		return nil, err
	}
	defer links.Close()
	for links.Next() {
		var rid, pid string
		if err := links.Scan(&rid, &pid); err != nil {
			return nil, err
		}
		if i, ok := index[rid]; ok {
			api.Resources[i].PolicyIDs = append(api.Resources[i].PolicyIDs, pid)
		}
	}
	return &api, links.Err()
}
