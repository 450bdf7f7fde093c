package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Migration001 creates the entities table backing the registry: one
// Migration per schema version, applied inside a single transaction.
type Migration001 struct{}

func (m *Migration001) Version() int { return 1 }
func (m *Migration001) Name() string { return "create_entities" }
func (m *Migration001) Description() string {
	return "entity registry table: table name -> primary key, partitions, evolution policy, schema"
}

func (m *Migration001) Up(ctx context.Context, tx bun.Tx) error {
	_, err := tx.NewCreateTable().
		Model(&struct {
			bun.BaseModel    `bun:"table:entities"`
			TableName        string `bun:"table_name,pk,type:text"`
			PrimaryKeyColumn string `bun:"primary_key_column,notnull,type:text"`
			PartitionColumns string `bun:"partition_columns,notnull,type:text,default:'[]'"`
			EvolutionPolicy  string `bun:"evolution_policy,notnull,type:text"`
			SchemaJSON       []byte `bun:"schema_json,type:blob"`
			CreatedAt        string `bun:"created_at,notnull,type:text"`
			UpdatedAt        string `bun:"updated_at,notnull,type:text"`
		}{}).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create entities table: %w", err)
	}

	_, err = tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_entities_updated_at ON entities(updated_at)`)
	if err != nil {
		return fmt.Errorf("failed to create entities updated_at index: %w", err)
	}
	return nil
}
