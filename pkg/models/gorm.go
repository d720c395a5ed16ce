package models

// ModelsToAutoMigrate returns the full list of models for gorm
// auto-migration, in dependency order.
func ModelsToAutoMigrate() []interface{} {
	return []interface{}{
		&Document{},
		&SavedText{},
		&DocumentEvent{},
		&ReindexJob{},
	}
}
