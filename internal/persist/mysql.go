package persist

import (
	"context"

	_ "github.com/go-sql-driver/mysql"
)

func init() {
	RegisterBackend("mysql", func(ctx context.Context, opts Options) (Backend, error) {
		return openSQLBackend(ctx, "mysql", opts)
	})
}
