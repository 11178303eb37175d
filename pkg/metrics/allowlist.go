package metrics

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// Schemas that may hold a users table.
const (
	schemaPublic   = "public"
	schemaAuth     = "auth"
	schemaNeonAuth = "neon_auth"
)

// TableRef is an allow-listed, schema-qualified table.
type TableRef struct {
	Schema string
	Name   string
}

// String returns schema.name.
func (t TableRef) String() string {
	return t.Schema + "." + t.Name
}

var (
	// Provider-managed user tables.
	supabaseUsers = TableRef{Schema: schemaAuth, Name: "users"}
	neonUsers     = TableRef{Schema: schemaNeonAuth, Name: "users_sync"}

	userNouns         = []string{"user", "account", "customer", "member", "profile"}
	subscriptionNouns = []string{"subscription"}

	createdColumns = []string{
		"created_at", "createdAt", "created", "inserted_at",
		"signup_date", "signed_up_at", "registered_at", "date_joined", "joined_at",
	}
	activityColumns = []string{
		"last_sign_in_at", "last_login_at", "last_login", "last_seen_at",
		"last_active_at", "lastLoginAt", "lastSeenAt",
	}
	deletedColumns = []string{"deleted_at", "deletedAt"}
	paidColumns    = []string{
		"is_paid", "paid", "is_premium", "is_pro", "is_subscribed",
		"has_paid", "isPaid", "isPremium",
	}
	// A bare "status" on a users table usually describes the account, not billing.
	userStatusColumns         = []string{"subscription_status", "plan_status"}
	subscriptionStatusColumns = []string{"status", "subscription_status", "plan_status"}
	planColumns               = []string{
		"plan", "plan_id", "plan_name", "tier", "subscription_tier",
		"stripe_subscription_id", "subscription_id", "stripe_price_id",
	}
	subscriptionUserColumns = []string{"user_id", "userId", "account_id", "customer_id"}

	// Values are lowercased before comparison.
	paidStatuses = []string{"active", "paid", "premium", "pro"}
	freePlans    = []string{"free", "none", ""}

	temporalTypes = map[string]bool{
		"timestamp with time zone":    true,
		"timestamp without time zone": true,
		"date":                        true,
	}
)

var (
	publicUserTables         = expandNouns(userNouns)
	publicSubscriptionTables = expandNouns(subscriptionNouns)

	// allowedTables maps every permitted schema.name to its canonical ref.
	allowedTables = buildAllowedTables()
	// allowedColumns holds every permitted column identifier.
	allowedColumns = buildAllowedColumns()
)

// expandNouns returns the plural, singular and capitalized forms of each noun,
// plural first.
func expandNouns(nouns []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, noun := range nouns {
		plural := inflection.Plural(noun)
		singular := inflection.Singular(noun)
		add(plural)
		add(singular)
		add(capitalize(plural))
		add(capitalize(singular))
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func buildAllowedTables() map[string]TableRef {
	m := make(map[string]TableRef)
	for _, name := range publicUserTables {
		ref := TableRef{Schema: schemaPublic, Name: name}
		m[ref.String()] = ref
	}
	for _, name := range publicSubscriptionTables {
		ref := TableRef{Schema: schemaPublic, Name: name}
		m[ref.String()] = ref
	}
	m[supabaseUsers.String()] = supabaseUsers
	m[neonUsers.String()] = neonUsers
	return m
}

func buildAllowedColumns() map[string]string {
	m := make(map[string]string)
	for _, list := range [][]string{
		createdColumns, activityColumns, deletedColumns, paidColumns,
		userStatusColumns, subscriptionStatusColumns, planColumns, subscriptionUserColumns,
	} {
		for _, c := range list {
			m[c] = c
		}
	}
	return m
}

// LookupTable resolves a table hint ("users" or "public.users") to its
// allow-listed ref. Unqualified names resolve against public first.
func LookupTable(hint string) (TableRef, bool) {
	hint = strings.TrimSpace(hint)
	if ref, ok := allowedTables[hint]; ok {
		return ref, true
	}
	if !strings.Contains(hint, ".") {
		if ref, ok := allowedTables[schemaPublic+"."+hint]; ok {
			return ref, true
		}
	}
	return TableRef{}, false
}

// isUserTable reports whether ref may be used as the users table.
func isUserTable(ref TableRef) bool {
	if ref == supabaseUsers || ref == neonUsers {
		return true
	}
	if ref.Schema != schemaPublic {
		return false
	}
	for _, name := range publicUserTables {
		if name == ref.Name {
			return true
		}
	}
	return false
}

// candidateSchemas and candidateTableNames bound the information_schema scan.
func candidateSchemas() []string {
	return []string{schemaPublic, schemaAuth, schemaNeonAuth}
}

func candidateTableNames() []string {
	names := make([]string, 0, len(publicUserTables)+len(publicSubscriptionTables)+2)
	names = append(names, publicUserTables...)
	names = append(names, publicSubscriptionTables...)
	names = append(names, supabaseUsers.Name, neonUsers.Name)
	return names
}
