package migrations

import (
	"embed"
	"fmt"
	"os"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// MigrateStore applies the goose migrations. When migrationFolder is blank
// the migrations embedded in the binary are used.
func MigrateStore(db *gorm.DB, migrationFolder string) error {
	goose.SetLogger(&logger{})

	if migrationFolder == "" {
		goose.SetBaseFS(embeddedMigrations)
		migrationFolder = "sql"
	} else {
		fi, err := os.Stat(migrationFolder)
		if err != nil {
			return err
		}
		if !fi.Mode().IsDir() {
			return fmt.Errorf("failed to open migration folder: %s is not a folder", migrationFolder)
		}
		goose.SetBaseFS(os.DirFS(migrationFolder))
		migrationFolder = "."
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	return goose.Up(sqlDB, migrationFolder)
}

/*
logger implements goose.Logger interface
*/
type logger struct{}

func (l *logger) Fatalf(format string, v ...interface{}) {
	zap.S().Named("migrations").Fatalf(format, v...)
}

func (l *logger) Printf(format string, v ...interface{}) {
	zap.S().Named("migrations").Infof(format, v...)
}
