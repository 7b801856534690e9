// Package repository implements MySQL persistence for accounts, refresh
// tokens, offices and reports.  Repositories speak in model types and
// report well-known failures through the sentinel errors below; services
// translate those into application errors.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrEmailExists      = errors.New("email already exists")
	ErrRefreshNotFound  = errors.New("refresh token not found")
	ErrOfficeNotFound   = errors.New("office not found")
	ErrOfficeCodeExists = errors.New("office code already exists")
	ErrReportNotFound   = errors.New("report not found")
)

// ErrStaleReport is returned by ReportRepo.Save when the stored version no
// longer matches the one the caller loaded.  Handlers should translate it
// into an HTTP 409 response.
var ErrStaleReport = errors.New("report was modified concurrently")

// ErrConflict is returned when a delete cannot be performed because other
// rows still reference the record (for example an office with reports).
var ErrConflict = errors.New("conflict")

const (
	mysqlDuplicateEntry  = 1062
	mysqlRowIsReferenced = 1451
)

func isMySQLError(err error, number uint16) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == number
}
