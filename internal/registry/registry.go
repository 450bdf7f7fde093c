package registry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"

	"github.com/lakewriter/deltaingest/internal/deltaschema"
	"github.com/lakewriter/deltaingest/internal/model"
	"github.com/lakewriter/deltaingest/pkg/errors"
)

// entityRow is the bun model backing the "entities" table created by
// migrations.Migration001.
type entityRow struct {
	bun.BaseModel    `bun:"table:entities"`
	TableName        string `bun:"table_name,pk"`
	PrimaryKeyColumn string `bun:"primary_key_column"`
	PartitionColumns string `bun:"partition_columns"`
	EvolutionPolicy  string `bun:"evolution_policy"`
	SchemaJSON       []byte `bun:"schema_json"`
	CreatedAt        string `bun:"created_at"`
	UpdatedAt        string `bun:"updated_at"`
}

// Registry is the entity metadata registry: reader-shared,
// writer-exclusive globally, with writes held only for a brief atomic swap.
// Backed by a bun+sqlite database so registrations survive a restart; the
// in-memory map is the hot path every write consults.
type Registry struct {
	db  *bun.DB
	log zerolog.Logger

	mu       sync.RWMutex
	entities map[string]*EntityMetadata
}

// Open opens (or creates) the registry database at dbPath, runs pending
// migrations, loads every existing entity into memory, and returns a ready
// Registry.
func Open(ctx context.Context, dbPath string, log zerolog.Logger) (*Registry, error) {
	db, err := openDB(ctx, dbPath, log)
	if err != nil {
		return nil, err
	}

	r := &Registry{db: db, log: log, entities: make(map[string]*EntityMetadata)}
	if err := r.loadAll(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the underlying database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) loadAll(ctx context.Context) error {
	var rows []entityRow
	if err := r.db.NewSelect().Model(&rows).Scan(ctx); err != nil {
		return errors.New(errors.CodeInternal, "failed to load registry entities", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		entity, err := rowToEntity(row)
		if err != nil {
			return err
		}
		r.entities[row.TableName] = entity
	}
	return nil
}

// Get returns the registered entity for table, or UnknownTable if no
// registration exists: every table that receives a write must have a
// registry entry.
func (r *Registry) Get(table string) (*EntityMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entity, ok := r.entities[table]
	if !ok {
		return nil, errors.UnknownTable(table)
	}
	return entity, nil
}

// Register inserts or atomically replaces the registry entry for a table.
// The database write happens first; the in-memory swap only happens after
// the database write (and the new entity struct) are fully constructed, so
// a reader never observes a partially-built entry, and a failed persist
// leaves the prior in-memory entry (if any) untouched.
func (r *Registry) Register(ctx context.Context, table string, schema *model.RecordSchema, primaryKeyColumn string, partitionColumns []string, policy EvolutionPolicy) error {
	if !policy.Valid() {
		return errors.ValidationFailure("unknown evolution policy").AddContext("evolution_policy", string(policy))
	}
	if err := policy.checkSupported(); err != nil {
		if existing, ok := r.peek(table); !ok || !sameSchema(existing.Schema, schema) {
			return err
		}
	}

	if policy == BackwardCompatible {
		if existing, ok := r.peek(table); ok {
			if err := checkAdditiveCompatible(existing, schema, primaryKeyColumn, partitionColumns); err != nil {
				return err
			}
		}
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return errors.New(errors.CodeInternal, "failed to marshal record schema", err).AddContext("table", table)
	}
	partitionsJSON, err := json.Marshal(partitionColumns)
	if err != nil {
		return errors.New(errors.CodeInternal, "failed to marshal partition columns", err).AddContext("table", table)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	row := &entityRow{
		TableName:        table,
		PrimaryKeyColumn: primaryKeyColumn,
		PartitionColumns: string(partitionsJSON),
		EvolutionPolicy:  string(policy),
		SchemaJSON:       schemaJSON,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	_, err = r.db.NewInsert().
		Model(row).
		On("CONFLICT (table_name) DO UPDATE").
		Set("primary_key_column = EXCLUDED.primary_key_column").
		Set("partition_columns = EXCLUDED.partition_columns").
		Set("evolution_policy = EXCLUDED.evolution_policy").
		Set("schema_json = EXCLUDED.schema_json").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return errors.New(errors.CodePermanentIO, "failed to persist registry entity", err).AddContext("table", table)
	}

	entity := &EntityMetadata{
		TableName:        table,
		PrimaryKeyColumn: primaryKeyColumn,
		PartitionColumns: partitionColumns,
		EvolutionPolicy:  policy,
		Schema:           schema,
	}

	r.mu.Lock()
	r.entities[table] = entity
	r.mu.Unlock()
	return nil
}

// checkAdditiveCompatible translates both the existing entity's schema and
// the incoming schema into their Delta representations and runs the
// additive-compatibility rule: a BACKWARD_COMPATIBLE re-registration that
// removes a field or narrows a type fails with IncompatibleSchema before
// any write, leaving the prior entry intact.
func checkAdditiveCompatible(existing *EntityMetadata, newSchema *model.RecordSchema, primaryKeyColumn string, partitionColumns []string) error {
	oldTS, err := deltaschema.Translate(existing.Schema, existing.PrimaryKeyColumn, existing.PartitionColumns)
	if err != nil {
		return err
	}
	newTS, err := deltaschema.Translate(newSchema, primaryKeyColumn, partitionColumns)
	if err != nil {
		return err
	}
	return deltaschema.CheckAdditiveCompatible(oldTS, newTS)
}

func (r *Registry) peek(table string) (*EntityMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[table]
	return e, ok
}

// sameSchema is a conservative structural check used only to decide whether
// an unimplemented-policy re-registration is actually a no-op (identical
// schema) rather than an attempted evolution this engine cannot evaluate.
func sameSchema(a, b *model.RecordSchema) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

func rowToEntity(row entityRow) (*EntityMetadata, error) {
	var schema model.RecordSchema
	if err := json.Unmarshal(row.SchemaJSON, &schema); err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to unmarshal record schema", err).AddContext("table", row.TableName)
	}
	var partitions []string
	if strings.TrimSpace(row.PartitionColumns) != "" {
		if err := json.Unmarshal([]byte(row.PartitionColumns), &partitions); err != nil {
			return nil, errors.New(errors.CodeInternal, "failed to unmarshal partition columns", err).AddContext("table", row.TableName)
		}
	}
	return &EntityMetadata{
		TableName:        row.TableName,
		PrimaryKeyColumn: row.PrimaryKeyColumn,
		PartitionColumns: partitions,
		EvolutionPolicy:  EvolutionPolicy(row.EvolutionPolicy),
		Schema:           &schema,
	}, nil
}
