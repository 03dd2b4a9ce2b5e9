package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrldec/trafficmirror/internal/config"
)

type row struct {
	ID   uint `gorm:"primarykey"`
	Name string
}

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresDSN(config.DBConfig{
		Host: "db", Port: "5432", Username: "u", Password: "p", Database: "traffic",
	})
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=traffic sslmode=disable", dsn)

	dsn = PostgresDSN(config.DBConfig{Host: "db", Port: "5432", SSLMode: "require"})
	assert.Contains(t, dsn, "sslmode=require")
}

func TestOpenSQLite_MemoryDatabasesAreIsolated(t *testing.T) {
	a, err := OpenSQLite("")
	require.NoError(t, err)
	b, err := OpenSQLite("")
	require.NoError(t, err)

	require.NoError(t, a.AutoMigrate(&row{}))
	require.NoError(t, a.Create(&row{Name: "x"}).Error)

	assert.False(t, b.Migrator().HasTable(&row{}))
}

func TestDumpMemoryDBToDisk(t *testing.T) {
	db, err := OpenSQLite("")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&row{}))
	require.NoError(t, db.Create(&row{Name: "first"}).Error)

	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "dump.db")
	require.NoError(t, DumpMemoryDBToDisk(db, path))

	// second dump replaces the first
	require.NoError(t, db.Create(&row{Name: "second"}).Error)
	require.NoError(t, DumpMemoryDBToDisk(db, path))

	disk, err := OpenSQLite(path)
	require.NoError(t, err)
	var count int64
	require.NoError(t, disk.Model(&row{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	paths, err := BackupPaths(filepath.Join(dir, "sub"))
	require.NoError(t, err)
	assert.Equal(t, []string{path}, paths)
}

func TestDumpMemoryDBToDisk_RejectsBadPaths(t *testing.T) {
	db, err := OpenSQLite("")
	require.NoError(t, err)

	assert.Error(t, DumpMemoryDBToDisk(db, ""))
	assert.Error(t, DumpMemoryDBToDisk(db, filepath.Join(t.TempDir(), "it's.db")))
}

func TestBackupPaths_MissingDir(t *testing.T) {
	_, err := BackupPaths(filepath.Join(t.TempDir(), "nope"))
	assert.True(t, os.IsNotExist(err))
}
