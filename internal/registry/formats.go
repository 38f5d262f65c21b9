package registry

import (
	"context"
	"database/sql"

	"github.com/nerrad567/vineyard-core/internal/infrastructure/database"
)

// AddDataFormat inserts a data format and assigns its generated ID.
func (r *SQLRepository) AddDataFormat(ctx context.Context, f *DataFormat) error {
	if err := ValidateDataFormat(f); err != nil {
		return err
	}
	return r.write(ctx, "adding data format", func(tx *database.Tx) error {
		id, err := tx.InsertID(ctx,
			"INSERT INTO data_format (name, sample, data_schema) VALUES (?, ?, ?)",
			f.Name, nullString(f.Sample), nullString(f.Schema))
		if err != nil {
			return err
		}
		f.ID = formatID(id)
		return nil
	})
}

// UpdateDataFormat overwrites an existing data format.
func (r *SQLRepository) UpdateDataFormat(ctx context.Context, f *DataFormat) error {
	if err := ValidateDataFormat(f); err != nil {
		return err
	}
	id, err := parseID("data format", f.ID)
	if err != nil {
		return err
	}
	return r.write(ctx, "updating data format", func(tx *database.Tx) error {
		if err := mustExist(ctx, tx, "data format", f.ID, "SELECT COUNT(*) FROM data_format WHERE id = ?", id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE data_format SET name = ?, sample = ?, data_schema = ? WHERE id = ?",
			f.Name, nullString(f.Sample), nullString(f.Schema), id)
		return err
	})
}

// DeleteDataFormat clears endpoint references to the format, then removes it.
func (r *SQLRepository) DeleteDataFormat(ctx context.Context, fid string) error {
	id, err := parseID("data format", fid)
	if err != nil {
		return err
	}
	return r.write(ctx, "deleting data format", func(tx *database.Tx) error {
		if err := mustExist(ctx, tx, "data format", fid, "SELECT COUNT(*) FROM data_format WHERE id = ?", id); err != nil {
			return err
		}
		return cascade(ctx, tx, "data format "+fid, []string{
			"UPDATE endpoint SET input_format = NULL WHERE input_format = ?",
			"UPDATE endpoint SET output_format = NULL WHERE output_format = ?",
			"DELETE FROM data_format WHERE id = ?",
		}, id)
	})
}

// GetDataFormat returns a data format by ID.
func (r *SQLRepository) GetDataFormat(ctx context.Context, fid string) (*DataFormat, error) {
	id, err := parseID("data format", fid)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, sample, data_schema FROM data_format WHERE id = ?", id)
	f, err := scanDataFormat(row)
	if err != nil {
		return nil, notFound(err, "data format", fid)
	}
	return f, nil
}

// ListDataFormats returns all data formats ordered by ID.
func (r *SQLRepository) ListDataFormats(ctx context.Context) ([]DataFormat, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name, sample, data_schema FROM data_format ORDER BY id")
	if err != nil {
		return nil, classify("listing data formats", err)
	}
	defer rows.Close()

	var out []DataFormat
	for rows.Next() {
		f, err := scanDataFormat(rows)
		if err != nil {
			return nil, classify("scanning data format", err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterating data formats", err)
	}
	return out, nil
}

// AddEndpoint inserts an endpoint. Referenced formats must exist.
func (r *SQLRepository) AddEndpoint(ctx context.Context, e *Endpoint) error {
	if err := ValidateEndpoint(e); err != nil {
		return err
	}
	in, out, err := endpointRefs(e)
	if err != nil {
		return err
	}
	return r.write(ctx, "adding endpoint", func(tx *database.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO endpoint (location, input_format, output_format) VALUES (?, ?, ?)",
			e.Location, in, out)
		return err
	})
}

// UpdateEndpoint replaces the format references of an endpoint.
func (r *SQLRepository) UpdateEndpoint(ctx context.Context, e *Endpoint) error {
	if err := ValidateEndpoint(e); err != nil {
		return err
	}
	in, out, err := endpointRefs(e)
	if err != nil {
		return err
	}
	return r.write(ctx, "updating endpoint", func(tx *database.Tx) error {
		if err := mustExist(ctx, tx, "endpoint", e.Location, "SELECT COUNT(*) FROM endpoint WHERE location = ?", e.Location); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE endpoint SET input_format = ?, output_format = ? WHERE location = ?",
			in, out, e.Location)
		return err
	})
}

// DeleteEndpoint clears deployment references to the endpoint, then removes it.
func (r *SQLRepository) DeleteEndpoint(ctx context.Context, location string) error {
	return r.write(ctx, "deleting endpoint", func(tx *database.Tx) error {
		if err := mustExist(ctx, tx, "endpoint", location, "SELECT COUNT(*) FROM endpoint WHERE location = ?", location); err != nil {
			return err
		}
		return cascade(ctx, tx, "endpoint "+location, []string{
			"UPDATE service_environment SET endpoint = NULL WHERE endpoint = ?",
			"UPDATE service_environment SET gateway = NULL WHERE gateway = ?",
			"DELETE FROM endpoint WHERE location = ?",
		}, location)
	})
}

// GetEndpoint returns an endpoint by location.
func (r *SQLRepository) GetEndpoint(ctx context.Context, location string) (*Endpoint, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT location, input_format, output_format FROM endpoint WHERE location = ?", location)
	e, err := scanEndpoint(row)
	if err != nil {
		return nil, notFound(err, "endpoint", location)
	}
	return e, nil
}

// ListEndpoints returns all endpoints ordered by location.
func (r *SQLRepository) ListEndpoints(ctx context.Context) ([]Endpoint, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT location, input_format, output_format FROM endpoint ORDER BY location")
	if err != nil {
		return nil, classify("listing endpoints", err)
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, classify("scanning endpoint", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterating endpoints", err)
	}
	return out, nil
}

// endpointRefs converts the optional format references. An unparsable ID
// cannot reference a row, which the foreign key would reject anyway.
func endpointRefs(e *Endpoint) (in, out sql.NullInt64, err error) {
	if in, err = nullRef("data format", e.InputFormat); err != nil {
		return in, out, err
	}
	out, err = nullRef("data format", e.OutputFormat)
	return in, out, err
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDataFormat(s scanner) (*DataFormat, error) {
	var f DataFormat
	var n int64
	var sample, schema sql.NullString
	if err := s.Scan(&n, &f.Name, &sample, &schema); err != nil {
		return nil, err
	}
	f.ID = formatID(n)
	f.Sample = sample.String
	f.Schema = schema.String
	return &f, nil
}

func scanEndpoint(s scanner) (*Endpoint, error) {
	var e Endpoint
	var in, out sql.NullInt64
	if err := s.Scan(&e.Location, &in, &out); err != nil {
		return nil, err
	}
	e.InputFormat = refString(in)
	e.OutputFormat = refString(out)
	return &e, nil
}
