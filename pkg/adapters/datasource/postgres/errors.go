package postgres

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-pulse/pkg/apperrors"
)

// SQLSTATE codes that map to a specific connection reason.
const (
	codeInvalidPassword      = "28P01"
	codeInvalidAuthorization = "28000"
	codeInvalidCatalogName   = "3D000"
	codeQueryCanceled        = "57014"
)

// Messages returned to callers. Driver messages can echo host names and user
// names, so they stay in logs only.
const (
	msgInvalidCredentials = "authentication failed: check the username and password"
	msgDatabaseNotFound   = "database does not exist: check the database name in the connection string"
	msgTimeout            = "connection timed out: check that the host is reachable and that firewall rules or IP allow-lists permit this server"
	msgRefused            = "connection refused: check the host and port, and that the database accepts external connections"
	msgFailed             = "could not connect to the database: check the connection string and network access"
)

// ClassifyError maps a driver or network error onto the closed set of
// connection failure reasons. Errors that are already classified pass through.
func ClassifyError(err error) *apperrors.Error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeInvalidPassword, codeInvalidAuthorization:
			return apperrors.NewAuthError(msgInvalidCredentials, err)
		case codeInvalidCatalogName:
			return apperrors.NewConnectionError(apperrors.ReasonDatabaseNotFound, msgDatabaseNotFound, err)
		case codeQueryCanceled:
			return apperrors.NewConnectionError(apperrors.ReasonTimeout, msgTimeout, err)
		}
	}

	if isTimeout(err) {
		return apperrors.NewConnectionError(apperrors.ReasonTimeout, msgTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return apperrors.NewConnectionError(apperrors.ReasonConnectionRefused, msgRefused, err)
	case strings.Contains(msg, "password authentication failed"):
		return apperrors.NewAuthError(msgInvalidCredentials, err)
	case strings.Contains(msg, "database") && strings.Contains(msg, "does not exist"):
		return apperrors.NewConnectionError(apperrors.ReasonDatabaseNotFound, msgDatabaseNotFound, err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return apperrors.NewConnectionError(apperrors.ReasonTimeout, msgTimeout, err)
	}

	return apperrors.NewConnectionError(apperrors.ReasonFailed, msgFailed, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
