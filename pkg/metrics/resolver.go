package metrics

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-pulse/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
)

// discoverySQL lists the columns of candidate tables. Only bound arrays of
// allow-listed names reach the server.
const discoverySQL = `
	SELECT table_schema::text, table_name::text, column_name::text, data_type::text
	FROM information_schema.columns
	WHERE table_schema::text = ANY($1::text[]) AND table_name::text = ANY($2::text[])
	ORDER BY table_schema, table_name, ordinal_position`

// UserTable is the resolved users table and the columns metrics can use.
// Empty column names mean the column was not found.
type UserTable struct {
	Ref            TableRef
	CreatedColumn  string
	ActivityColumn string
	DeletedColumn  string
	PaidColumn     string
	StatusColumn   string
	PlanColumn     string
}

// SubscriptionTable is a resolved subscriptions table with a status column.
type SubscriptionTable struct {
	Ref          TableRef
	StatusColumn string
	UserColumn   string
}

// Schema is what the resolver found in a tenant database.
// Every identifier in it is an allow-list constant.
type Schema struct {
	Users         *UserTable
	Subscriptions *SubscriptionTable
}

// tableColumns maps each discovered table to its columns and their data types.
type tableColumns map[TableRef]map[string]string

// Resolver locates the users table and metric columns of a tenant schema.
type Resolver struct {
	provider models.Provider
	hints    []TableRef
}

// NewResolver creates a resolver. Hints that are not allow-listed are ignored;
// valid hints are tried before the provider's default order.
func NewResolver(provider models.Provider, hints []string) *Resolver {
	r := &Resolver{provider: provider}
	for _, h := range hints {
		if ref, ok := LookupTable(h); ok {
			r.hints = append(r.hints, ref)
		}
	}
	return r
}

// Resolve scans information_schema and picks tables and columns.
func (r *Resolver) Resolve(ctx context.Context, q datasource.Querier) (*Schema, error) {
	tables, err := discoverColumns(ctx, q)
	if err != nil {
		return nil, err
	}
	return r.resolve(tables), nil
}

func discoverColumns(ctx context.Context, q datasource.Querier) (tableColumns, error) {
	rows, err := q.Query(ctx, discoverySQL, candidateSchemas(), candidateTableNames())
	if err != nil {
		return nil, fmt.Errorf("failed to query information_schema: %w", err)
	}
	defer rows.Close()

	tables := make(tableColumns)
	for rows.Next() {
		var schema, table, column, dataType string
		if err := rows.Scan(&schema, &table, &column, &dataType); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}

		ref, ok := allowedTables[schema+"."+table]
		if !ok {
			continue
		}
		if tables[ref] == nil {
			tables[ref] = make(map[string]string)
		}
		tables[ref][column] = dataType
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}

	return tables, nil
}

func (r *Resolver) resolve(tables tableColumns) *Schema {
	schema := &Schema{}

	for _, ref := range r.userTableOrder() {
		cols, ok := tables[ref]
		if !ok {
			continue
		}
		schema.Users = &UserTable{
			Ref:            ref,
			CreatedColumn:  pickColumn(cols, createdColumns, isTemporal),
			ActivityColumn: pickColumn(cols, activityColumns, isTemporal),
			DeletedColumn:  pickColumn(cols, deletedColumns, isTemporal),
			PaidColumn:     pickColumn(cols, paidColumns, isBoolean),
			StatusColumn:   pickColumn(cols, userStatusColumns, anyType),
			PlanColumn:     pickColumn(cols, planColumns, anyType),
		}
		break
	}

	for _, name := range publicSubscriptionTables {
		ref := allowedTables[schemaPublic+"."+name]
		cols, ok := tables[ref]
		if !ok {
			continue
		}
		status := pickColumn(cols, subscriptionStatusColumns, anyType)
		if status == "" {
			continue
		}
		schema.Subscriptions = &SubscriptionTable{
			Ref:          ref,
			StatusColumn: status,
			UserColumn:   pickColumn(cols, subscriptionUserColumns, anyType),
		}
		break
	}

	return schema
}

// userTableOrder returns users-table candidates by priority: hints, then the
// provider's managed table where it usually holds the real users, then nouns.
func (r *Resolver) userTableOrder() []TableRef {
	seen := make(map[TableRef]bool)
	var order []TableRef
	add := func(ref TableRef) {
		if !seen[ref] && isUserTable(ref) {
			seen[ref] = true
			order = append(order, ref)
		}
	}

	for _, h := range r.hints {
		add(h)
	}
	if r.provider == models.ProviderSupabase {
		add(supabaseUsers)
	}
	for _, name := range publicUserTables {
		add(TableRef{Schema: schemaPublic, Name: name})
	}
	// neon_auth mirrors identities; application tables in public come first.
	add(neonUsers)
	add(supabaseUsers)

	return order
}

func pickColumn(cols map[string]string, candidates []string, typeOK func(string) bool) string {
	for _, c := range candidates {
		if dataType, ok := cols[c]; ok && typeOK(dataType) {
			return allowedColumns[c]
		}
	}
	return ""
}

func isTemporal(dataType string) bool { return temporalTypes[dataType] }
func isBoolean(dataType string) bool  { return dataType == "boolean" }
func anyType(string) bool             { return true }
