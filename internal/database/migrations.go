package database

import (
	"log"

	"gorm.io/gorm"
)

// RunMigrations runs any custom data migrations after schema changes
func RunMigrations(db *gorm.DB) error {
	if err := migrateSourceTagField(db); err != nil {
		return err
	}
	if err := cleanupOrphanedOverrides(db); err != nil {
		return err
	}
	return nil
}

// migrateSourceTagField normalizes legacy source tag values.
// Older exports wrote mixed-case tags; the resolver only matches lowercase.
// Safe to run multiple times.
func migrateSourceTagField(db *gorm.DB) error {
	if !db.Migrator().HasTable("holdings") {
		return nil
	}

	result := db.Exec(`UPDATE holdings SET source_tag = LOWER(source_tag) WHERE source_tag != LOWER(source_tag)`)
	if result.Error != nil {
		log.Printf("Warning: failed to normalize source_tag values: %v", result.Error)
	} else if result.RowsAffected > 0 {
		log.Printf("Normalized %d legacy source_tag values", result.RowsAffected)
	}

	// Rows with a tag but no target are leftovers from a partial clear
	result = db.Exec(`UPDATE holdings SET source_tag = '' WHERE target IS NULL AND manual_override = 0 AND source_tag != ''`)
	if result.Error != nil {
		log.Printf("Warning: failed to clear stale source_tag values: %v", result.Error)
	}

	return nil
}

// cleanupOrphanedOverrides clears manual_override flags on rows that lost
// their target value, which older versions could produce during a wipe.
func cleanupOrphanedOverrides(db *gorm.DB) error {
	if !db.Migrator().HasTable("holdings") {
		return nil
	}

	result := db.Exec(`UPDATE holdings SET manual_override = 0 WHERE manual_override = 1 AND target IS NULL`)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("Cleared %d orphaned manual_override flags", result.RowsAffected)
	}

	return nil
}
