package dialect

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/syssam/bulksql"
)

// Family groups dialect names sharing SQL syntax.
type Family string

// Supported families.
const (
	FamilyPostgres Family = "postgres"
	FamilyMySQL    Family = "mysql"
	FamilySQLite   Family = "sqlite"
	FamilyGeneric  Family = "generic"
)

// PlaceholderStyle is the bind parameter syntax of a dialect.
type PlaceholderStyle uint8

const (
	// Positional renders every parameter as "?".
	Positional PlaceholderStyle = iota
	// Numbered renders parameters as "$1", "$2", ...
	Numbered
)

// UpdateStrategy selects how a multi-row update is rendered.
type UpdateStrategy uint8

const (
	// UpdatePerRow emits one UPDATE statement per row.
	UpdatePerRow UpdateStrategy = iota
	// UpdateCase emits one UPDATE statement per chunk with a CASE expression
	// per set column, keyed by the where columns.
	UpdateCase
)

// Version is a parsed server version. The zero value means unknown.
type Version struct {
	Major, Minor, Patch int
	Raw                 string
}

// Known reports whether the version was parsed.
func (v Version) Known() bool { return v.Major > 0 }

// AtLeast reports whether v >= o. Unknown versions are treated as current.
func (v Version) AtLeast(o Version) bool {
	if !v.Known() {
		return true
	}
	if v.Major != o.Major {
		return v.Major > o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor > o.Minor
	}
	return v.Patch >= o.Patch
}

// String returns "major.minor.patch", or the empty string when unknown.
func (v Version) String() string {
	if !v.Known() {
		return ""
	}
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor) + "." + strconv.Itoa(v.Patch)
}

var versionRe = regexp.MustCompile(`(\d+)(?:\.(\d+))?(?:\.(\d+))?`)

// ParseVersion extracts the leading "major[.minor[.patch]]" of a server version
// string such as "15.3 (Debian 15.3-1)", "8.0.34-0ubuntu" or "10.11.2-MariaDB".
func ParseVersion(s string) Version {
	m := versionRe.FindStringSubmatch(s)
	if m == nil {
		return Version{Raw: s}
	}
	v := Version{Raw: s}
	v.Major, _ = strconv.Atoi(m[1])
	v.Minor, _ = strconv.Atoi(m[2])
	v.Patch, _ = strconv.Atoi(m[3])
	return v
}

// Descriptor is the capability record of one backend. It is resolved once per
// connection and never mutated afterwards.
type Descriptor struct {
	Name        string
	Family      Family
	Version     Version
	Placeholder PlaceholderStyle
	// NativeUpsert is true when the family has an upsert clause and the server
	// version is unknown or at least UpsertFloor.
	NativeUpsert bool
	UpsertFloor  Version
	// Returning reports RETURNING support on INSERT.
	Returning bool
	// Truncate reports whether TRUNCATE TABLE replaces an unconditional DELETE.
	Truncate bool
	// RowValues reports support for (a, b) IN ((?, ?), ...).
	RowValues         bool
	MaxParams         int
	MaxStatementBytes int
	Update            UpdateStrategy
	// Writes is false for dialects limited to insert and select.
	Writes bool
	quote  byte
}

// ResolveOption configures Resolve.
type ResolveOption func(*Descriptor)

// WithVersion sets the server version string used for feature gating.
func WithVersion(v string) ResolveOption {
	return func(d *Descriptor) {
		d.Version = ParseVersion(v)
	}
}

var (
	pgUpsertFloor     = Version{Major: 9, Minor: 5}
	mysqlUpsertFloor  = Version{Major: 5, Minor: 5}
	sqliteUpsertFloor = Version{Major: 3, Minor: 24}
)

// Resolve returns the Descriptor of the named dialect. Driver names wrapped by
// tooling (for example "postgres-otel") resolve by prefix.
func Resolve(name string, opts ...ResolveOption) (*Descriptor, error) {
	d := &Descriptor{Name: name}
	for _, opt := range opts {
		opt(d)
	}
	switch family(name) {
	case FamilyPostgres:
		d.Family = FamilyPostgres
		d.Placeholder = Numbered
		d.quote = '"'
		d.UpsertFloor = pgUpsertFloor
		d.NativeUpsert = d.Version.AtLeast(pgUpsertFloor)
		d.Returning = true
		d.Truncate = true
		d.RowValues = true
		d.MaxParams = 65535
		d.MaxStatementBytes = 1<<30 - 1
		d.Update = UpdatePerRow
		d.Writes = true
		if strings.HasPrefix(strings.ToLower(name), "redshift") {
			d.MaxParams = 32767
		}
	case FamilyMySQL:
		d.Family = FamilyMySQL
		d.Placeholder = Positional
		d.quote = '`'
		d.UpsertFloor = mysqlUpsertFloor
		d.NativeUpsert = d.Version.AtLeast(mysqlUpsertFloor)
		d.Truncate = true
		d.RowValues = true
		d.MaxParams = 65535
		d.MaxStatementBytes = 4 << 20
		d.Update = UpdateCase
		d.Writes = true
	case FamilySQLite:
		d.Family = FamilySQLite
		d.Placeholder = Positional
		d.quote = '"'
		d.UpsertFloor = sqliteUpsertFloor
		d.NativeUpsert = d.Version.AtLeast(sqliteUpsertFloor)
		d.Returning = d.Version.AtLeast(Version{Major: 3, Minor: 35})
		d.RowValues = d.Version.AtLeast(Version{Major: 3, Minor: 15})
		d.MaxParams = 32766
		if !d.Version.AtLeast(Version{Major: 3, Minor: 32}) {
			d.MaxParams = 999
		}
		d.MaxStatementBytes = 1_000_000
		d.Update = UpdateCase
		d.Writes = true
	case FamilyGeneric:
		d.Family = FamilyGeneric
		d.Placeholder = Positional
		d.quote = '"'
		d.MaxParams = 999
		d.MaxStatementBytes = 1_000_000
		d.Update = UpdatePerRow
	default:
		return nil, bulksql.NewUnsupportedAdapterError(name)
	}
	return d, nil
}

// MustResolve is like Resolve but panics on unknown names.
func MustResolve(name string, opts ...ResolveOption) *Descriptor {
	d, err := Resolve(name, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

func family(name string) Family {
	n := strings.ToLower(name)
	for _, p := range []struct {
		prefix string
		family Family
	}{
		{"postgres", FamilyPostgres},
		{"pgx", FamilyPostgres},
		{"redshift", FamilyPostgres},
		{"mysql", FamilyMySQL},
		{"mariadb", FamilyMySQL},
		{"sqlite", FamilySQLite},
		{Generic, FamilyGeneric},
	} {
		if strings.HasPrefix(n, p.prefix) {
			return p.family
		}
	}
	return ""
}

// Quote quotes an identifier. Schema-qualified names are quoted per part.
// The identifier must already be validated.
func (d *Descriptor) Quote(ident string) string {
	q := string(d.quote)
	if !strings.Contains(ident, ".") {
		return q + ident + q
	}
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = q + p + q
	}
	return strings.Join(parts, ".")
}

// Bind returns the placeholder of the n-th (1-based) parameter.
func (d *Descriptor) Bind(n int) string {
	if d.Placeholder == Numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// CheckUpsert returns an UpsertUnsupportedError when upsert cannot run.
func (d *Descriptor) CheckUpsert() error {
	if d.NativeUpsert {
		return nil
	}
	return &bulksql.UpsertUnsupportedError{
		Dialect: string(d.Family),
		Version: d.Version.String(),
		Floor:   d.UpsertFloor.String(),
	}
}

// CheckWrite returns an UnsupportedOperationError for dialects limited to
// insert and select.
func (d *Descriptor) CheckWrite(op string) error {
	if d.Writes {
		return nil
	}
	return &bulksql.UnsupportedOperationError{Dialect: d.Name, Op: op}
}
