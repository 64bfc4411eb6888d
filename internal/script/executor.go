// Package script executes SQL statements and dump/restore operations
// against a resolved connection.
package script

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/davexpro/recoverd/internal/conn"
)

// Executor runs a single statement with a timeout. Used for pre/post
// scripts and verification probes.
type Executor interface {
	Execute(ctx context.Context, info *conn.Info, statement string, timeout time.Duration) error
}

// SQLExecutor executes statements over a live GORM connection. Opened
// connections are cached per connection id.
type SQLExecutor struct {
	mu  sync.Mutex
	dbs map[string]*gorm.DB
}

func NewSQLExecutor() *SQLExecutor {
	return &SQLExecutor{dbs: map[string]*gorm.DB{}}
}

func (e *SQLExecutor) Execute(ctx context.Context, info *conn.Info, statement string, timeout time.Duration) error {
	db, err := e.open(info)
	if err != nil {
		return err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := db.WithContext(ctx).Exec(statement).Error; err != nil {
		return fmt.Errorf("execute statement: %w", err)
	}
	return nil
}

func (e *SQLExecutor) open(info *conn.Info) (*gorm.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if db, ok := e.dbs[info.ID]; ok {
		return db, nil
	}
	db, err := gorm.Open(mysql.Open(info.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open connection %s: %w", info.ID, err)
	}
	e.dbs[info.ID] = db
	return db, nil
}
