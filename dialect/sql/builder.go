package sql

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/syssam/bulksql"
	"github.com/syssam/bulksql/dialect"
)

// ErrTooManyParameters is returned when a rendered statement binds more
// parameters than the dialect allows.
var ErrTooManyParameters = errors.New("dialect/sql: too many bind parameters")

// Statement is a rendered SQL statement with its ordered bind arguments.
type Statement struct {
	Query string
	Args  []any
}

// StatementBuilder is implemented by every write builder.
type StatementBuilder interface {
	Statements() ([]Statement, error)
}

// identPartRe validates one dot-separated part of an SQL identifier.
var identPartRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const maxIdentifierLen = 128

// ValidateIdentifier checks that name consists of at most maxParts
// dot-separated parts of letters, digits and underscores.
func ValidateIdentifier(name string, maxParts int) error {
	if name == "" || len(name) > maxIdentifierLen {
		return &bulksql.InvalidIdentifierError{Identifier: name}
	}
	parts := strings.Split(name, ".")
	if len(parts) > maxParts {
		return &bulksql.InvalidIdentifierError{Identifier: name}
	}
	for _, p := range parts {
		if !identPartRe.MatchString(p) {
			return &bulksql.InvalidIdentifierError{Identifier: name}
		}
	}
	return nil
}

// ValidateTable validates a possibly qualified (catalog.schema.table) name.
func ValidateTable(name string) error { return ValidateIdentifier(name, 3) }

// ValidateColumns validates unqualified column names.
func ValidateColumns(names ...string) error {
	for _, n := range names {
		if err := ValidateIdentifier(n, 1); err != nil {
			return err
		}
	}
	return nil
}

// AppendComment appends a trailing block comment to the query. Comment
// terminators in the text are removed so the comment cannot close early.
func AppendComment(query, comment string) string {
	comment = strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(comment, "*/", ""), "/*", ""))
	if comment == "" {
		return query
	}
	return query + " /* " + comment + " */"
}

// Builder is the base of all statement builders. It renders SQL text for one
// dialect, numbers placeholders and collects the bind arguments.
type Builder struct {
	sb    strings.Builder
	args  []any
	total int
	errs  []error
	d     *dialect.Descriptor
}

// DialectBuilder prefixes all root builders with the Descriptor they render for.
type DialectBuilder struct {
	d *dialect.Descriptor
}

// Dialect creates a new DialectBuilder for the given descriptor.
//
//	sql.Dialect(d).Insert("users").Columns("name").Values("a8m").Query()
func Dialect(d *dialect.Descriptor) *DialectBuilder {
	return &DialectBuilder{d: d}
}

// Descriptor returns the descriptor of the builder.
func (d *DialectBuilder) Descriptor() *dialect.Descriptor { return d.d }

// WriteString writes a raw string.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// WriteByte writes a single byte.
func (b *Builder) WriteByte(c byte) *Builder {
	b.sb.WriteByte(c)
	return b
}

// Pad writes a space.
func (b *Builder) Pad() *Builder { return b.WriteByte(' ') }

// Table writes a validated, quoted table name.
func (b *Builder) Table(name string) *Builder {
	if err := ValidateTable(name); err != nil {
		return b.AddError(err)
	}
	return b.WriteString(b.d.Quote(name))
}

// Ident writes a validated, quoted column name. "*" is written as is.
func (b *Builder) Ident(name string) *Builder {
	if name == "*" {
		return b.WriteByte('*')
	}
	if err := ValidateIdentifier(name, 1); err != nil {
		return b.AddError(err)
	}
	return b.WriteString(b.d.Quote(name))
}

// IdentComma writes a comma separated list of columns.
func (b *Builder) IdentComma(names ...string) *Builder {
	for i, n := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(n)
	}
	return b
}

// Arg writes the next placeholder and records its argument.
func (b *Builder) Arg(v any) *Builder {
	b.total++
	b.args = append(b.args, v)
	return b.WriteString(b.d.Bind(b.total))
}

// Args writes a parenthesised, comma separated placeholder list.
func (b *Builder) Args(vs ...any) *Builder {
	b.WriteByte('(')
	for i, v := range vs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Arg(v)
	}
	return b.WriteByte(')')
}

// Nested wraps the output of f in parentheses.
func (b *Builder) Nested(f func(*Builder)) *Builder {
	b.WriteByte('(')
	f(b)
	return b.WriteByte(')')
}

// AddError records an error reported by Err.
func (b *Builder) AddError(err error) *Builder {
	if err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Err returns the errors recorded while building. A single error is returned
// unchanged; several are joined.
func (b *Builder) Err() error {
	switch len(b.errs) {
	case 0:
		return nil
	case 1:
		return b.errs[0]
	default:
		return errors.Join(b.errs...)
	}
}

// String returns the SQL text rendered so far.
func (b *Builder) String() string { return b.sb.String() }

// query returns the statement text and arguments, checking the parameter limit.
func (b *Builder) query() (string, []any) {
	if len(b.args) > b.d.MaxParams {
		b.AddError(fmt.Errorf("%w: %d > %d", ErrTooManyParameters, len(b.args), b.d.MaxParams))
	}
	return b.sb.String(), b.args
}

// reset clears the rendered text and arguments but keeps recorded errors.
func (b *Builder) reset() {
	b.sb.Reset()
	b.args = nil
	b.total = 0
}

// keyEquals writes `k1 = ? AND k2 = ?` for one row of key values.
func (b *Builder) keyEquals(keys []string, values []any) {
	for i, k := range keys {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.Ident(k).WriteString(" = ").Arg(values[i])
	}
}

// keysIn writes a predicate matching any of the key rows: `k IN (?, ?)`,
// `(a, b) IN ((?, ?), ...)` or, without row values, `(a = ? AND b = ?) OR ...`.
func (b *Builder) keysIn(keys []string, rows [][]any) {
	switch {
	case len(keys) == 1:
		b.Ident(keys[0]).WriteString(" IN (")
		for i, r := range rows {
			if i > 0 {
				b.WriteString(", ")
			}
			b.Arg(r[0])
		}
		b.WriteByte(')')
	case b.d.RowValues:
		b.Nested(func(b *Builder) { b.IdentComma(keys...) }).WriteString(" IN (")
		for i, r := range rows {
			if i > 0 {
				b.WriteString(", ")
			}
			b.Args(r...)
		}
		b.WriteByte(')')
	default:
		for i, r := range rows {
			if i > 0 {
				b.WriteString(" OR ")
			}
			b.Nested(func(b *Builder) { b.keyEquals(keys, r) })
		}
	}
}

// checkRows records a schema mismatch for rows not matching the column count.
func (b *Builder) checkRows(width int, rows [][]any) {
	for i, r := range rows {
		if len(r) != width {
			b.AddError(bulksql.NewSchemaMismatchError(i, "got %d values, expected %d", len(r), width))
			return
		}
	}
}

// checkSubset records a schema mismatch for keys missing from columns.
func (b *Builder) checkSubset(columns, keys []string) {
	if len(keys) == 0 {
		b.AddError(bulksql.NewSchemaMismatchError(-1, "no key columns"))
		return
	}
	for _, k := range keys {
		if !slices.Contains(columns, k) {
			b.AddError(bulksql.NewSchemaMismatchError(-1, "key column %q is not a batch column", k))
		}
	}
}

// InsertBuilder is a builder for multi-row `INSERT INTO` statements, with an
// optional conflict clause turning it into an upsert.
type InsertBuilder struct {
	Builder
	table     string
	columns   []string
	values    [][]any
	returning []string
	conflict  []string
	upsert    bool
	comment   string
	cache     *StatementCache
}

// Insert creates a builder for the `INSERT INTO` statement.
//
//	Dialect(d).Insert("users").
//		Columns("name", "age").
//		Values("a8m", 10).
//		Values("foo", 20)
func (d *DialectBuilder) Insert(table string) *InsertBuilder {
	i := &InsertBuilder{table: table}
	i.d = d.d
	return i
}

// Columns sets the columns of the insert statement.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = append(i.columns, columns...)
	return i
}

// Values appends one row of values.
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	i.values = append(i.values, values)
	return i
}

// Rows appends rows of values, in order.
func (i *InsertBuilder) Rows(rows [][]any) *InsertBuilder {
	i.values = append(i.values, rows...)
	return i
}

// Returning adds the `RETURNING` clause. "*" returns all columns.
func (i *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	i.returning = columns
	return i
}

// OnConflict turns the insert into an upsert keyed on the given columns: rows
// conflicting on them get every other column set from the incoming row.
func (i *InsertBuilder) OnConflict(columns ...string) *InsertBuilder {
	i.upsert = true
	i.conflict = columns
	return i
}

// Comment appends a trailing comment to the statement.
func (i *InsertBuilder) Comment(c string) *InsertBuilder {
	i.comment = c
	return i
}

// Cache memoises the rendered text per statement shape.
func (i *InsertBuilder) Cache(c *StatementCache) *InsertBuilder {
	i.cache = c
	return i
}

func (i *InsertBuilder) validate() {
	if err := ValidateTable(i.table); err != nil {
		i.AddError(err)
	}
	if err := ValidateColumns(i.columns...); err != nil {
		i.AddError(err)
	}
	if len(i.columns) == 0 {
		i.AddError(bulksql.NewSchemaMismatchError(-1, "insert has no columns"))
	}
	if len(i.values) == 0 {
		i.AddError(bulksql.NewSchemaMismatchError(-1, "insert has no rows"))
	}
	i.checkRows(len(i.columns), i.values)
	if i.upsert {
		i.AddError(i.d.CheckUpsert())
		i.checkSubset(i.columns, i.conflict)
	}
	if len(i.returning) > 0 && !i.d.Returning {
		i.AddError(&bulksql.UnsupportedOperationError{Dialect: i.d.Name, Op: "returning"})
	}
}

// Query returns the query representation of the statement.
func (i *InsertBuilder) Query() (string, []any) {
	i.reset()
	i.validate()
	if i.Err() != nil {
		return "", nil
	}
	var key uint64
	if i.cache != nil {
		key = i.cache.Key(i.d.Name, "insert", i.table, strings.Join(i.columns, ","),
			len(i.values), strings.Join(i.conflict, ","), i.upsert, strings.Join(i.returning, ","))
		if q, ok := i.cache.Get(key); ok {
			args := make([]any, 0, len(i.values)*len(i.columns))
			for _, r := range i.values {
				args = append(args, r...)
			}
			i.args = args
			_, args = i.query()
			return AppendComment(q, i.comment), args
		}
	}
	i.WriteString("INSERT INTO ").Table(i.table).Pad()
	i.Nested(func(b *Builder) { b.IdentComma(i.columns...) })
	i.WriteString(" VALUES ")
	for j, r := range i.values {
		if j > 0 {
			i.WriteString(", ")
		}
		i.Args(r...)
	}
	if i.upsert {
		i.writeConflict()
	}
	if len(i.returning) > 0 {
		i.WriteString(" RETURNING ").IdentComma(i.returning...)
	}
	q, args := i.query()
	if i.cache != nil && i.Err() == nil {
		i.cache.Add(key, q)
	}
	return AppendComment(q, i.comment), args
}

// updateColumns returns the non-key columns, or the keys themselves when every
// column is a key, so conflicting rows are still touched (and returned).
func (i *InsertBuilder) updateColumns() []string {
	var cols []string
	for _, c := range i.columns {
		if !slices.Contains(i.conflict, c) {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return i.conflict
	}
	return cols
}

func (i *InsertBuilder) writeConflict() {
	cols := i.updateColumns()
	if i.d.Family == dialect.FamilyMySQL {
		i.WriteString(" ON DUPLICATE KEY UPDATE ")
		for j, c := range cols {
			if j > 0 {
				i.WriteString(", ")
			}
			i.Ident(c).WriteString(" = VALUES(").Ident(c).WriteByte(')')
		}
		return
	}
	i.WriteString(" ON CONFLICT ")
	i.Nested(func(b *Builder) { b.IdentComma(i.conflict...) })
	i.WriteString(" DO UPDATE SET ")
	for j, c := range cols {
		if j > 0 {
			i.WriteString(", ")
		}
		i.Ident(c).WriteString(" = EXCLUDED.").Ident(c)
	}
}

// Statements implements StatementBuilder.
func (i *InsertBuilder) Statements() ([]Statement, error) {
	q, args := i.Query()
	if err := i.Err(); err != nil {
		return nil, err
	}
	return []Statement{{Query: q, Args: args}}, nil
}

// UpdateBuilder is a builder for keyed multi-row updates. Every row holds one
// value per column; the where columns select the row to update and the other
// columns are set.
type UpdateBuilder struct {
	Builder
	table   string
	columns []string
	where   []string
	values  [][]any
	comment string
}

// Update creates a builder for keyed `UPDATE` statements.
//
//	Dialect(d).Update("forecasts").
//		Columns("id", "temperature").
//		Where("id").
//		Values(2, 20).
//		Values(3, 25)
func (d *DialectBuilder) Update(table string) *UpdateBuilder {
	u := &UpdateBuilder{table: table}
	u.d = d.d
	return u
}

// Columns sets the columns of every row.
func (u *UpdateBuilder) Columns(columns ...string) *UpdateBuilder {
	u.columns = append(u.columns, columns...)
	return u
}

// Where sets the key columns identifying each row.
func (u *UpdateBuilder) Where(columns ...string) *UpdateBuilder {
	u.where = append(u.where, columns...)
	return u
}

// Values appends one row.
func (u *UpdateBuilder) Values(values ...any) *UpdateBuilder {
	u.values = append(u.values, values)
	return u
}

// Rows appends rows, in order.
func (u *UpdateBuilder) Rows(rows [][]any) *UpdateBuilder {
	u.values = append(u.values, rows...)
	return u
}

// Comment appends a trailing comment to every statement.
func (u *UpdateBuilder) Comment(c string) *UpdateBuilder {
	u.comment = c
	return u
}

// split returns the set column names with their positions and the key positions.
func (u *UpdateBuilder) split() (set []string, setIdx, keyIdx []int) {
	for j, c := range u.columns {
		if !slices.Contains(u.where, c) {
			set = append(set, c)
			setIdx = append(setIdx, j)
		}
	}
	for _, k := range u.where {
		keyIdx = append(keyIdx, slices.Index(u.columns, k))
	}
	return set, setIdx, keyIdx
}

// Statements renders the update. With dialect.UpdateCase a single statement
// covers every row; with dialect.UpdatePerRow one statement is rendered per
// row. A batch whose columns are all keys renders no statement.
func (u *UpdateBuilder) Statements() ([]Statement, error) {
	u.reset()
	u.AddError(u.d.CheckWrite("update"))
	if err := ValidateTable(u.table); err != nil {
		u.AddError(err)
	}
	if err := ValidateColumns(u.columns...); err != nil {
		u.AddError(err)
	}
	u.checkSubset(u.columns, u.where)
	u.checkRows(len(u.columns), u.values)
	if err := u.Err(); err != nil {
		return nil, err
	}
	set, setIdx, keyIdx := u.split()
	if len(set) == 0 || len(u.values) == 0 {
		return nil, nil
	}
	pick := func(r []any, idx []int) []any {
		vs := make([]any, len(idx))
		for j, k := range idx {
			vs[j] = r[k]
		}
		return vs
	}
	var stmts []Statement
	if u.d.Update == dialect.UpdateCase {
		u.WriteString("UPDATE ").Table(u.table).WriteString(" SET ")
		rows := lastByKey(u.values, keyIdx)
		keyRows := make([][]any, len(rows))
		for j, r := range rows {
			keyRows[j] = pick(r, keyIdx)
		}
		for j, c := range set {
			if j > 0 {
				u.WriteString(", ")
			}
			u.Ident(c).WriteString(" = CASE")
			for n, r := range rows {
				u.WriteString(" WHEN ")
				u.keyEquals(u.where, keyRows[n])
				u.WriteString(" THEN ").Arg(r[setIdx[j]])
			}
			u.WriteString(" ELSE ").Ident(c).WriteString(" END")
		}
		u.WriteString(" WHERE ")
		u.keysIn(u.where, keyRows)
		q, args := u.query()
		stmts = append(stmts, Statement{Query: AppendComment(q, u.comment), Args: args})
	} else {
		for _, r := range u.values {
			u.reset()
			u.WriteString("UPDATE ").Table(u.table).WriteString(" SET ")
			for j, c := range set {
				if j > 0 {
					u.WriteString(", ")
				}
				u.Ident(c).WriteString(" = ").Arg(r[setIdx[j]])
			}
			u.WriteString(" WHERE ")
			u.keyEquals(u.where, pick(r, keyIdx))
			q, args := u.query()
			stmts = append(stmts, Statement{Query: AppendComment(q, u.comment), Args: args})
		}
	}
	if err := u.Err(); err != nil {
		return nil, err
	}
	return stmts, nil
}

// lastByKey drops every row whose key appears again later in rows, so a CASE
// update writes the last value of each key like sequential statements do.
// Row order is otherwise kept.
func lastByKey(rows [][]any, keyIdx []int) [][]any {
	last := make(map[string]int, len(rows))
	keys := make([]string, len(rows))
	for n, r := range rows {
		var sb strings.Builder
		for _, k := range keyIdx {
			fmt.Fprintf(&sb, "%T:%v\x00", r[k], r[k])
		}
		keys[n] = sb.String()
		last[keys[n]] = n
	}
	if len(last) == len(rows) {
		return rows
	}
	out := make([][]any, 0, len(last))
	for n, r := range rows {
		if last[keys[n]] == n {
			out = append(out, r)
		}
	}
	return out
}

// ParamsPerRow returns the bind parameters one row contributes to an update
// of the given shape under the dialect's update strategy.
func ParamsPerRow(d *dialect.Descriptor, columns, keys int) int {
	set := columns - keys
	if d.Update == dialect.UpdateCase {
		return set*(keys+1) + keys
	}
	return columns
}

// DeleteBuilder is a builder for `DELETE` statements matching key rows, or
// removing every row when no key columns are given.
type DeleteBuilder struct {
	Builder
	table   string
	where   []string
	values  [][]any
	comment string
	cache   *StatementCache
}

// Delete creates a builder for the `DELETE` statement.
//
//	Dialect(d).Delete("users").Where("id").Values(1).Values(2)
//	Dialect(d).Delete("users") // TRUNCATE TABLE or DELETE FROM
func (d *DialectBuilder) Delete(table string) *DeleteBuilder {
	del := &DeleteBuilder{table: table}
	del.d = d.d
	return del
}

// Where sets the key columns.
func (d *DeleteBuilder) Where(columns ...string) *DeleteBuilder {
	d.where = append(d.where, columns...)
	return d
}

// Values appends one row of key values.
func (d *DeleteBuilder) Values(values ...any) *DeleteBuilder {
	d.values = append(d.values, values)
	return d
}

// Rows appends rows of key values.
func (d *DeleteBuilder) Rows(rows [][]any) *DeleteBuilder {
	d.values = append(d.values, rows...)
	return d
}

// Comment appends a trailing comment to the statement.
func (d *DeleteBuilder) Comment(c string) *DeleteBuilder {
	d.comment = c
	return d
}

// Cache memoises the rendered text per statement shape.
func (d *DeleteBuilder) Cache(c *StatementCache) *DeleteBuilder {
	d.cache = c
	return d
}

// Query returns the query representation of the statement.
func (d *DeleteBuilder) Query() (string, []any) {
	d.reset()
	d.AddError(d.d.CheckWrite("delete"))
	if err := ValidateTable(d.table); err != nil {
		d.AddError(err)
	}
	if err := ValidateColumns(d.where...); err != nil {
		d.AddError(err)
	}
	if len(d.where) > 0 && len(d.values) == 0 {
		d.AddError(bulksql.NewSchemaMismatchError(-1, "delete has key columns but no key rows"))
	}
	if len(d.where) == 0 && len(d.values) > 0 {
		d.AddError(bulksql.NewSchemaMismatchError(-1, "delete has key rows but no key columns"))
	}
	d.checkRows(len(d.where), d.values)
	if d.Err() != nil {
		return "", nil
	}
	if len(d.where) == 0 {
		if d.d.Truncate {
			d.WriteString("TRUNCATE TABLE ").Table(d.table)
		} else {
			d.WriteString("DELETE FROM ").Table(d.table)
		}
		q, args := d.query()
		return AppendComment(q, d.comment), args
	}
	var key uint64
	if d.cache != nil {
		key = d.cache.Key(d.d.Name, "delete", d.table, strings.Join(d.where, ","), len(d.values))
		if q, ok := d.cache.Get(key); ok {
			for _, r := range d.values {
				d.args = append(d.args, r...)
			}
			_, args := d.query()
			return AppendComment(q, d.comment), args
		}
	}
	d.WriteString("DELETE FROM ").Table(d.table).WriteString(" WHERE ")
	d.keysIn(d.where, d.values)
	q, args := d.query()
	if d.cache != nil && d.Err() == nil {
		d.cache.Add(key, q)
	}
	return AppendComment(q, d.comment), args
}

// Statements implements StatementBuilder.
func (d *DeleteBuilder) Statements() ([]Statement, error) {
	q, args := d.Query()
	if err := d.Err(); err != nil {
		return nil, err
	}
	return []Statement{{Query: q, Args: args}}, nil
}

// Selector is a builder for the keyed `SELECT` used to read back rows
// written by dialects without `RETURNING`.
type Selector struct {
	Builder
	table   string
	columns []string
	where   []string
	values  [][]any
	comment string
}

// Select creates a builder for the `SELECT` statement.
//
//	Dialect(d).Select("*").From("users").Where("id").Values(1).Values(2)
func (d *DialectBuilder) Select(columns ...string) *Selector {
	s := &Selector{columns: columns}
	s.d = d.d
	return s
}

// From sets the table to select from.
func (s *Selector) From(table string) *Selector {
	s.table = table
	return s
}

// Where sets the key columns.
func (s *Selector) Where(columns ...string) *Selector {
	s.where = append(s.where, columns...)
	return s
}

// Values appends one row of key values.
func (s *Selector) Values(values ...any) *Selector {
	s.values = append(s.values, values)
	return s
}

// Rows appends rows of key values.
func (s *Selector) Rows(rows [][]any) *Selector {
	s.values = append(s.values, rows...)
	return s
}

// Comment appends a trailing comment to the statement.
func (s *Selector) Comment(c string) *Selector {
	s.comment = c
	return s
}

// Query returns the query representation of the statement.
func (s *Selector) Query() (string, []any) {
	s.reset()
	s.checkRows(len(s.where), s.values)
	if len(s.columns) == 0 {
		s.columns = []string{"*"}
	}
	s.WriteString("SELECT ").IdentComma(s.columns...).WriteString(" FROM ").Table(s.table)
	if len(s.where) > 0 && len(s.values) > 0 {
		s.WriteString(" WHERE ")
		s.keysIn(s.where, s.values)
	}
	q, args := s.query()
	return AppendComment(q, s.comment), args
}
