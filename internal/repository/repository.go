package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// PostgreSQL 错误码
// 参考: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrUniqueViolation = "23505" // unique_violation

	// Class 40: Transaction Rollback
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"

	// Class 08: Connection Exception
	pgErrConnectionFailure    = "08006"
	pgErrConnectionException  = "08000"
	pgErrSQLClientCantConnect = "08001"

	// Class 53: Insufficient Resources
	pgErrInsufficientResources = "53000"
	pgErrTooManyConnections    = "53300"

	// Class 57: Operator Intervention
	pgErrQueryCanceled    = "57014"
	pgErrCannotConnectNow = "57P03"
)

// Repository 基础仓储
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建基础仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// txKey 事务上下文键
type txKey struct{}

// DB 返回数据库连接, 事务上下文中返回事务连接
func (r *Repository) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Transaction 执行事务, ctx 已携带事务时加入外层事务
func (r *Repository) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey{}, tx)
		return fn(txCtx)
	})
}

// TransactionWithRetry 带重试的事务执行, 仅重试临时性错误
func (r *Repository) TransactionWithRetry(ctx context.Context, maxRetries int, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = r.Transaction(ctx, fn)
		if err == nil || !IsRetryableError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1<<uint(i)) * 100 * time.Millisecond):
		}
	}
	return err
}

// IsRetryableError 死锁, 序列化失败, 连接问题, 资源不足等临时性错误
func IsRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgErrSerializationFailure, pgErrDeadlockDetected,
		pgErrConnectionFailure, pgErrConnectionException, pgErrSQLClientCantConnect,
		pgErrInsufficientResources, pgErrTooManyConnections,
		pgErrQueryCanceled, pgErrCannotConnectNow:
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

// Pagination 分页参数
type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

// Offset 计算偏移量
func (p *Pagination) Offset() int {
	if p.Page <= 0 {
		p.Page = 1
	}
	return (p.Page - 1) * p.Limit()
}

// Limit 返回限制数量
func (p *Pagination) Limit() int {
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	return p.PageSize
}

func paginate(db *gorm.DB, page *Pagination) *gorm.DB {
	if page == nil {
		return db
	}
	return db.Offset(page.Offset()).Limit(page.Limit())
}
