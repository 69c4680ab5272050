package structured

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"
	"github.com/kart-io/memoryd/internal/model"
	"github.com/kart-io/memoryd/pkg/component/postgres"
)

// Migrate runs gorm AutoMigrate plus the raw-SQL index steps gorm's struct
// tags cannot express reliably (a GIN index over the keywords array and the
// composite (project_id, unit_type, created_at) index named in
// SPEC_FULL.md §4.2). This centralises the scattered AutoMigrate calls the
// teacher left in bootstrap into one place, in the teacher's own idiom.
func Migrate(ctx context.Context, client *postgres.Client) error {
	db := client.DB().WithContext(ctx)

	if err := db.AutoMigrate(
		&model.Project{},
		&model.Conversation{},
		&model.Message{},
		&model.MemoryUnit{},
		&model.CostRecord{},
		&schemaVersion{},
	); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}

	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_unit_keywords_gin ON memory_units USING GIN (keywords)`,
		`CREATE INDEX IF NOT EXISTS idx_unit_proj_type_created ON memory_units (project_id, unit_type, created_at)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("index migration %q: %w", stmt, err)
		}
	}

	logger.Info("structured store: migration complete")
	return db.Exec(`INSERT INTO schema_versions (id, version) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version`, currentSchemaVersion).Error
}

const currentSchemaVersion = 1

// schemaVersion is the single-row bookkeeping table recording the applied
// migration version (SPEC_FULL.md §3 SUPPLEMENTED).
type schemaVersion struct {
	ID      int `gorm:"column:id;primaryKey"`
	Version int `gorm:"column:version"`
}

func (schemaVersion) TableName() string { return "schema_versions" }
