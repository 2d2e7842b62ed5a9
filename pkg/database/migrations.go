package database

// AutoMigrate runs auto-migration for the index repository's and the
// access oracle's tables. The watcher's snapshot store owns a separate
// connection and migrates itself (see pkg/snapshot).
func (m *Manager) AutoMigrate() error {
	db := m.GetDB()
	return db.AutoMigrate(
		&Document{},
		&Chunk{},
		&AuthorizedPath{},
		&FolderSubscriber{},
		&FolderFile{},
	)
}
