package registry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nerrad567/vineyard-core/internal/infrastructure/database"
)

// AddService inserts a service. Any supplied ID is ignored; the generated
// one is assigned to s before the transaction commits.
func (r *SQLRepository) AddService(ctx context.Context, s *Service) error {
	if err := ValidateService(s); err != nil {
		return err
	}
	return r.write(ctx, "adding service", func(tx *database.Tx) error {
		id, err := tx.InsertID(ctx,
			"INSERT INTO service (name, description) VALUES (?, ?)",
			s.Name, nullString(s.Description))
		if err != nil {
			return err
		}
		s.ID = formatID(id)
		return nil
	})
}

// UpdateService overwrites the name and description of an existing service.
func (r *SQLRepository) UpdateService(ctx context.Context, s *Service) error {
	if err := ValidateService(s); err != nil {
		return err
	}
	id, err := parseID("service", s.ID)
	if err != nil {
		return err
	}
	return r.write(ctx, "updating service", func(tx *database.Tx) error {
		if err := mustExist(ctx, tx, "service", s.ID, "SELECT COUNT(*) FROM service WHERE id = ?", id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE service SET name = ?, description = ? WHERE id = ?",
			s.Name, nullString(s.Description), id)
		return err
	})
}

// DeleteService removes a service together with its deployments and their
// metadata, children first. A service with a deployment that publishes an
// API is refused with ErrConflict; remove the registration first.
func (r *SQLRepository) DeleteService(ctx context.Context, sid string) error {
	id, err := parseID("service", sid)
	if err != nil {
		return err
	}
	return r.write(ctx, "deleting service", func(tx *database.Tx) error {
		if err := mustExist(ctx, tx, "service", sid, "SELECT COUNT(*) FROM service WHERE id = ?", id); err != nil {
			return err
		}
		if err := unreferenced(ctx, tx, "service "+sid,
			"SELECT COUNT(*) FROM service_environment_meta WHERE service_id = ? AND meta_key = ?",
			id, MetaAPIRef); err != nil {
			return err
		}
		return cascade(ctx, tx, "service "+sid, []string{
			"DELETE FROM service_environment_meta WHERE service_id = ?",
			"DELETE FROM service_environment WHERE service_id = ?",
			"DELETE FROM service WHERE id = ?",
		}, id)
	})
}

// GetService returns a service by ID.
func (r *SQLRepository) GetService(ctx context.Context, sid string) (*Service, error) {
	id, err := parseID("service", sid)
	if err != nil {
		return nil, err
	}
	var s Service
	var n int64
	var desc sql.NullString
	err = r.db.QueryRowContext(ctx,
		"SELECT id, name, description FROM service WHERE id = ?", id,
	).Scan(&n, &s.Name, &desc)
	if err != nil {
		return nil, notFound(err, "service", sid)
	}
	s.ID = formatID(n)
	s.Description = desc.String
	return &s, nil
}

// ListServices returns all services ordered by ID.
func (r *SQLRepository) ListServices(ctx context.Context) ([]Service, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name, description FROM service ORDER BY id")
	if err != nil {
		return nil, classify("listing services", err)
	}
	defer rows.Close()

	var services []Service
	for rows.Next() {
		var s Service
		var n int64
		var desc sql.NullString
		if err := rows.Scan(&n, &s.Name, &desc); err != nil {
			return nil, classify("scanning service", err)
		}
		s.ID = formatID(n)
		s.Description = desc.String
		services = append(services, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterating services", err)
	}
	return services, nil
}

// AddEnvironment inserts an environment and assigns its generated ID.
func (r *SQLRepository) AddEnvironment(ctx context.Context, e *Environment) error {
	if err := ValidateEnvironment(e); err != nil {
		return err
	}
	return r.write(ctx, "adding environment", func(tx *database.Tx) error {
		id, err := tx.InsertID(ctx,
			"INSERT INTO environment (name, description, scope) VALUES (?, ?, ?)",
			e.Name, nullString(e.Description), nullString(e.Scope))
		if err != nil {
			return err
		}
		e.ID = formatID(id)
		return nil
	})
}

// UpdateEnvironment overwrites an existing environment.
func (r *SQLRepository) UpdateEnvironment(ctx context.Context, e *Environment) error {
	if err := ValidateEnvironment(e); err != nil {
		return err
	}
	id, err := parseID("environment", e.ID)
	if err != nil {
		return err
	}
	return r.write(ctx, "updating environment", func(tx *database.Tx) error {
		if err := mustExist(ctx, tx, "environment", e.ID, "SELECT COUNT(*) FROM environment WHERE id = ?", id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE environment SET name = ?, description = ?, scope = ? WHERE id = ?",
			e.Name, nullString(e.Description), nullString(e.Scope), id)
		return err
	})
}

// DeleteEnvironment removes an environment, the deployments into it with
// their metadata, and its maintainer assignments. Like DeleteService it is
// refused while a deployment into it publishes an API.
func (r *SQLRepository) DeleteEnvironment(ctx context.Context, eid string) error {
	id, err := parseID("environment", eid)
	if err != nil {
		return err
	}
	return r.write(ctx, "deleting environment", func(tx *database.Tx) error {
		if err := mustExist(ctx, tx, "environment", eid, "SELECT COUNT(*) FROM environment WHERE id = ?", id); err != nil {
			return err
		}
		if err := unreferenced(ctx, tx, "environment "+eid,
			"SELECT COUNT(*) FROM service_environment_meta WHERE environment_id = ? AND meta_key = ?",
			id, MetaAPIRef); err != nil {
			return err
		}
		return cascade(ctx, tx, "environment "+eid, []string{
			"DELETE FROM service_environment_meta WHERE environment_id = ?",
			"DELETE FROM service_environment WHERE environment_id = ?",
			"DELETE FROM environment_maintainer WHERE environment_id = ?",
			"DELETE FROM environment WHERE id = ?",
		}, id)
	})
}

// GetEnvironment returns an environment by ID.
func (r *SQLRepository) GetEnvironment(ctx context.Context, eid string) (*Environment, error) {
	id, err := parseID("environment", eid)
	if err != nil {
		return nil, err
	}
	var e Environment
	var n int64
	var desc, scope sql.NullString
	err = r.db.QueryRowContext(ctx,
		"SELECT id, name, description, scope FROM environment WHERE id = ?", id,
	).Scan(&n, &e.Name, &desc, &scope)
	if err != nil {
		return nil, notFound(err, "environment", eid)
	}
	e.ID = formatID(n)
	e.Description = desc.String
	e.Scope = scope.String
	return &e, nil
}

// ListEnvironments returns all environments ordered by ID.
func (r *SQLRepository) ListEnvironments(ctx context.Context) ([]Environment, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name, description, scope FROM environment ORDER BY id")
	if err != nil {
		return nil, classify("listing environments", err)
	}
	defer rows.Close()

	var envs []Environment
	for rows.Next() {
		var e Environment
		var n int64
		var desc, scope sql.NullString
		if err := rows.Scan(&n, &e.Name, &desc, &scope); err != nil {
			return nil, classify("scanning environment", err)
		}
		e.ID = formatID(n)
		e.Description = desc.String
		e.Scope = scope.String
		envs = append(envs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterating environments", err)
	}
	return envs, nil
}

// AddMaintainer inserts a maintainer. A taken name fails with ErrDuplicate.
func (r *SQLRepository) AddMaintainer(ctx context.Context, m *Maintainer) error {
	if err := ValidateMaintainer(m); err != nil {
		return err
	}
	return r.write(ctx, "adding maintainer", func(tx *database.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO maintainer (name, email, team) VALUES (?, ?, ?)",
			m.Name, nullString(m.Email), nullString(m.Team))
		return err
	})
}

// UpdateMaintainer overwrites the email and team of a maintainer.
func (r *SQLRepository) UpdateMaintainer(ctx context.Context, m *Maintainer) error {
	if err := ValidateMaintainer(m); err != nil {
		return err
	}
	return r.write(ctx, "updating maintainer", func(tx *database.Tx) error {
		if err := mustExist(ctx, tx, "maintainer", m.Name, "SELECT COUNT(*) FROM maintainer WHERE name = ?", m.Name); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE maintainer SET email = ?, team = ? WHERE name = ?",
			nullString(m.Email), nullString(m.Team), m.Name)
		return err
	})
}

// DeleteMaintainer removes a maintainer and its environment assignments.
func (r *SQLRepository) DeleteMaintainer(ctx context.Context, name string) error {
	return r.write(ctx, "deleting maintainer", func(tx *database.Tx) error {
		if err := mustExist(ctx, tx, "maintainer", name, "SELECT COUNT(*) FROM maintainer WHERE name = ?", name); err != nil {
			return err
		}
		return cascade(ctx, tx, "maintainer "+name, []string{
			"DELETE FROM environment_maintainer WHERE maintainer_name = ?",
			"DELETE FROM maintainer WHERE name = ?",
		}, name)
	})
}

// GetMaintainer returns a maintainer by name.
func (r *SQLRepository) GetMaintainer(ctx context.Context, name string) (*Maintainer, error) {
	var m Maintainer
	var email, team sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT name, email, team FROM maintainer WHERE name = ?", name,
	).Scan(&m.Name, &email, &team)
	if err != nil {
		return nil, notFound(err, "maintainer", name)
	}
	m.Email = email.String
	m.Team = team.String
	return &m, nil
}

// ListMaintainers returns all maintainers ordered by name.
func (r *SQLRepository) ListMaintainers(ctx context.Context) ([]Maintainer, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name, email, team FROM maintainer ORDER BY name")
	if err != nil {
		return nil, classify("listing maintainers", err)
	}
	defer rows.Close()

	var out []Maintainer
	for rows.Next() {
		var m Maintainer
		var email, team sql.NullString
		if err := rows.Scan(&m.Name, &email, &team); err != nil {
			return nil, classify("scanning maintainer", err)
		}
		m.Email = email.String
		m.Team = team.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterating maintainers", err)
	}
	return out, nil
}

// AssignMaintainer gives a maintainer a role in an environment. Assigning
// again replaces the role.
func (r *SQLRepository) AssignMaintainer(ctx context.Context, environmentID, maintainerName, role string) error {
	envID, err := parseID("environment", environmentID)
	if err != nil {
		return err
	}
	if err := checkLen("role", role, maxName); err != nil {
		return err
	}
	return r.write(ctx, "assigning maintainer", func(tx *database.Tx) error {
		if err := mustExist(ctx, tx, "environment", environmentID, "SELECT COUNT(*) FROM environment WHERE id = ?", envID); err != nil {
			return err
		}
		if err := mustExist(ctx, tx, "maintainer", maintainerName, "SELECT COUNT(*) FROM maintainer WHERE name = ?", maintainerName); err != nil {
			return err
		}

		assigned, err := exists(ctx, tx,
			"SELECT COUNT(*) FROM environment_maintainer WHERE environment_id = ? AND maintainer_name = ?",
			envID, maintainerName)
		if err != nil {
			return err
		}
		if assigned {
			_, err = tx.ExecContext(ctx,
				"UPDATE environment_maintainer SET role = ? WHERE environment_id = ? AND maintainer_name = ?",
				nullString(role), envID, maintainerName)
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO environment_maintainer (environment_id, maintainer_name, role) VALUES (?, ?, ?)",
			envID, maintainerName, nullString(role))
		return err
	})
}

// UnassignMaintainer removes a maintainer from an environment.
func (r *SQLRepository) UnassignMaintainer(ctx context.Context, environmentID, maintainerName string) error {
	envID, err := parseID("environment", environmentID)
	if err != nil {
		return err
	}
	return r.write(ctx, "unassigning maintainer", func(tx *database.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM environment_maintainer WHERE environment_id = ? AND maintainer_name = ?",
			envID, maintainerName)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // all drivers report affected rows
			return fmt.Errorf("%w: maintainer %q in environment %s", ErrNotFound, maintainerName, environmentID)
		}
		return nil
	})
}

// ListEnvironmentMaintainers returns the maintainers assigned to an environment.
func (r *SQLRepository) ListEnvironmentMaintainers(ctx context.Context, environmentID string) ([]EnvironmentMaintainer, error) {
	envID, err := parseID("environment", environmentID)
	if err != nil {
		return nil, err
	}
	if err := mustExist(ctx, r.db, "environment", environmentID, "SELECT COUNT(*) FROM environment WHERE id = ?", envID); err != nil {
		return nil, classify("listing maintainers", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT maintainer_name, role FROM environment_maintainer WHERE environment_id = ? ORDER BY maintainer_name",
		envID)
	if err != nil {
		return nil, classify("listing environment maintainers", err)
	}
	defer rows.Close()

	var out []EnvironmentMaintainer
	for rows.Next() {
		em := EnvironmentMaintainer{EnvironmentID: environmentID}
		var role sql.NullString
		if err := rows.Scan(&em.MaintainerName, &role); err != nil {
			return nil, classify("scanning environment maintainer", err)
		}
		em.Role = role.String
		out = append(out, em)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterating environment maintainers", err)
	}
	return out, nil
}
