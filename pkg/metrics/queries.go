package metrics

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Every identifier below comes from a resolved Schema and is therefore an
// allow-list constant. Values are always bound.

func quoteTable(t TableRef) string {
	return pgx.Identifier{t.Schema, t.Name}.Sanitize()
}

func quoteColumn(c string) string {
	return pgx.Identifier{c}.Sanitize()
}

// notDeleted returns a predicate excluding soft-deleted rows, or TRUE.
func notDeleted(users *UserTable) string {
	if users.DeletedColumn == "" {
		return "TRUE"
	}
	return quoteColumn(users.DeletedColumn) + " IS NULL"
}

func userCountSQL(users *UserTable) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s",
		quoteTable(users.Ref), notDeleted(users))
}

func createdSinceSQL(users *UserTable) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s >= $1 AND %s",
		quoteTable(users.Ref), quoteColumn(users.CreatedColumn), notDeleted(users))
}

func createdBeforeSQL(users *UserTable) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s < $1 AND %s",
		quoteTable(users.Ref), quoteColumn(users.CreatedColumn), notDeleted(users))
}

// dailyCountsSQL groups rows by the UTC calendar day of column.
// The session time zone is UTC, so ::date yields UTC days.
func dailyCountsSQL(users *UserTable, column string) string {
	col := quoteColumn(column)
	return fmt.Sprintf(
		"SELECT %s::date AS day, COUNT(*) FROM %s WHERE %s >= $1 AND %s GROUP BY 1 ORDER BY 1",
		col, quoteTable(users.Ref), col, notDeleted(users))
}

// paidUsersSQL picks the first available paid signal.
func paidUsersSQL(schema *Schema) (string, []any, bool) {
	if users := schema.Users; users != nil {
		table := quoteTable(users.Ref)
		switch {
		case users.PaidColumn != "":
			return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = true AND %s",
				table, quoteColumn(users.PaidColumn), notDeleted(users)), nil, true
		case users.StatusColumn != "":
			return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE lower(%s::text) = ANY($1) AND %s",
				table, quoteColumn(users.StatusColumn), notDeleted(users)), []any{paidStatuses}, true
		case users.PlanColumn != "":
			col := quoteColumn(users.PlanColumn)
			return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL AND lower(%s::text) <> ALL($1) AND %s",
				table, col, col, notDeleted(users)), []any{freePlans}, true
		}
	}

	if subs := schema.Subscriptions; subs != nil {
		counted := "*"
		if subs.UserColumn != "" {
			counted = "DISTINCT " + quoteColumn(subs.UserColumn)
		}
		return fmt.Sprintf("SELECT COUNT(%s) FROM %s WHERE lower(%s::text) = ANY($1)",
			counted, quoteTable(subs.Ref), quoteColumn(subs.StatusColumn)), []any{paidStatuses}, true
	}

	return "", nil, false
}
