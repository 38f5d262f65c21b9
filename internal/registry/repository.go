package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/nerrad567/vineyard-core/internal/catalog"
	"github.com/nerrad567/vineyard-core/internal/infrastructure/database"
)

// Repository defines the persistence operations of the registry.
//
// Every mutating method runs as one transaction: it either applies in full
// or leaves the store untouched. Get methods return ErrNotFound for a
// missing key and never a zero value.
type Repository interface {
	AddService(ctx context.Context, s *Service) error
	UpdateService(ctx context.Context, s *Service) error
	DeleteService(ctx context.Context, id string) error
	GetService(ctx context.Context, id string) (*Service, error)
	ListServices(ctx context.Context) ([]Service, error)

	AddEnvironment(ctx context.Context, e *Environment) error
	UpdateEnvironment(ctx context.Context, e *Environment) error
	DeleteEnvironment(ctx context.Context, id string) error
	GetEnvironment(ctx context.Context, id string) (*Environment, error)
	ListEnvironments(ctx context.Context) ([]Environment, error)

	AddMaintainer(ctx context.Context, m *Maintainer) error
	UpdateMaintainer(ctx context.Context, m *Maintainer) error
	DeleteMaintainer(ctx context.Context, name string) error
	GetMaintainer(ctx context.Context, name string) (*Maintainer, error)
	ListMaintainers(ctx context.Context) ([]Maintainer, error)

	AddDataFormat(ctx context.Context, f *DataFormat) error
	UpdateDataFormat(ctx context.Context, f *DataFormat) error
	DeleteDataFormat(ctx context.Context, id string) error
	GetDataFormat(ctx context.Context, id string) (*DataFormat, error)
	ListDataFormats(ctx context.Context) ([]DataFormat, error)

	AddEndpoint(ctx context.Context, e *Endpoint) error
	UpdateEndpoint(ctx context.Context, e *Endpoint) error
	DeleteEndpoint(ctx context.Context, location string) error
	GetEndpoint(ctx context.Context, location string) (*Endpoint, error)
	ListEndpoints(ctx context.Context) ([]Endpoint, error)

	AssignMaintainer(ctx context.Context, environmentID, maintainerName, role string) error
	UnassignMaintainer(ctx context.Context, environmentID, maintainerName string) error
	ListEnvironmentMaintainers(ctx context.Context, environmentID string) ([]EnvironmentMaintainer, error)

	Deploy(ctx context.Context, d *Deployment, meta Metadata) error
	GetDeployment(ctx context.Context, serviceID, environmentID string) (*Deployment, error)
	ListDeployments(ctx context.Context, serviceID string) ([]Deployment, error)
	ListAllDeployments(ctx context.Context) ([]Deployment, error)
	UpdateDeployment(ctx context.Context, d *Deployment) error
	SetDeploymentState(ctx context.Context, serviceID, environmentID string, state DeploymentState) error
	Undeploy(ctx context.Context, serviceID, environmentID string) error

	SetMetadata(ctx context.Context, serviceID, environmentID, key, value string) error
	GetMetadata(ctx context.Context, serviceID, environmentID, key string) (string, error)
	ListMetadata(ctx context.Context, serviceID, environmentID string) (Metadata, error)
	DeleteMetadata(ctx context.Context, serviceID, environmentID, key string) error
	MutateMetadata(ctx context.Context, serviceID, environmentID string, fn func(Metadata) error) error
	FindDeploymentsByMetadata(ctx context.Context, key, value string) ([]Deployment, error)

	AddPolicy(ctx context.Context, p *catalog.Policy) error
	UpdatePolicy(ctx context.Context, p *catalog.Policy) error
	DeletePolicy(ctx context.Context, id string) error
	GetPolicy(ctx context.Context, id string) (*catalog.Policy, error)
	ListPolicies(ctx context.Context) ([]catalog.Policy, error)

	AddAPI(ctx context.Context, api *catalog.API) error
	UpdateAPI(ctx context.Context, api *catalog.API) error
	DeleteAPI(ctx context.Context, id string) error
	GetAPI(ctx context.Context, id string) (*catalog.API, error)
	ListAPIs(ctx context.Context) ([]catalog.API, error)
}

// querier is satisfied by both *database.DB and *database.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLRepository implements Repository over any supported SQL dialect.
type SQLRepository struct {
	db *database.DB
}

// NewSQLRepository creates a repository on an opened, bootstrapped store.
func NewSQLRepository(db *database.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// write runs fn in a transaction and classifies any failure.
func (r *SQLRepository) write(ctx context.Context, op string, fn func(tx *database.Tx) error) error {
	if err := r.db.WithTx(ctx, fn); err != nil {
		return classify(op, err)
	}
	return nil
}

// classify maps store errors onto the registry taxonomy. Errors already
// carrying a registry sentinel pass through unchanged.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrPersistence),
		errors.Is(err, ErrDuplicateContext),
		errors.Is(err, ErrInvalid),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, catalog.ErrInvalidAPI),
		errors.Is(err, catalog.ErrInvalidResource),
		errors.Is(err, catalog.ErrTypeImmutable),
		errors.Is(err, catalog.ErrResourceExists):
		return err
	case database.IsUniqueViolation(err):
		return fmt.Errorf("%w: %w: %s: %w", ErrPersistence, ErrDuplicate, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
	}
}

// cascade executes dependent deletes in order. A failing statement turns
// the whole unit of work into ErrConflict.
func cascade(ctx context.Context, tx *database.Tx, what string, stmts []string, args ...any) error {
	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("%w: deleting %s (step %d): %w", ErrConflict, what, i+1, err)
		}
	}
	return nil
}

// unreferenced returns ErrConflict when the COUNT(*) query finds a
// deployment still publishing through the entity being deleted.
func unreferenced(ctx context.Context, q querier, what, query string, args ...any) error {
	ok, err := exists(ctx, q, query, args...)
	if err != nil {
		return fmt.Errorf("checking references to %s: %w", what, err)
	}
	if ok {
		return fmt.Errorf("%w: %s is published by a registration", ErrConflict, what)
	}
	return nil
}

// parseID converts an external identifier into a surrogate key. A value
// that cannot be a key cannot exist either.
func parseID(kind, id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
	}
	return n, nil
}

func formatID(n int64) string {
	return strconv.FormatInt(n, 10)
}

// exists runs a COUNT(*) query.
func exists(ctx context.Context, q querier, query string, args ...any) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// mustExist returns ErrNotFound when the COUNT(*) query finds nothing.
func mustExist(ctx context.Context, q querier, kind, key, query string, args ...any) error {
	ok, err := exists(ctx, q, query, args...)
	if err != nil {
		return fmt.Errorf("checking %s %s: %w", kind, key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s %q", ErrNotFound, kind, key)
	}
	return nil
}

// notFound converts sql.ErrNoRows into ErrNotFound.
func notFound(err error, kind, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %q", ErrNotFound, kind, key)
	}
	return classify("reading "+kind, err)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullRef converts an optional surrogate key reference for storage.
func nullRef(kind, id string) (sql.NullInt64, error) {
	if id == "" {
		return sql.NullInt64{}, nil
	}
	n, err := parseID(kind, id)
	if err != nil {
		return sql.NullInt64{}, err
	}
	return sql.NullInt64{Int64: n, Valid: true}, nil
}

func refString(n sql.NullInt64) string {
	if !n.Valid {
		return ""
	}
	return formatID(n.Int64)
}
