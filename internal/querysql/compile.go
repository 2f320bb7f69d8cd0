package querysql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/ormso/internal/schema"
	"github.com/roach88/ormso/internal/where"
)

// Compiler compiles filters and statements to parameterized SQL for one
// dialect.
//
// All values are bound as parameters, never interpolated. Every select
// orders by the primary key as final tiebreaker so results and paging are
// deterministic.
type Compiler struct {
	dialect Dialect
}

// NewCompiler creates a compiler for the dialect.
func NewCompiler(d Dialect) *Compiler {
	return &Compiler{dialect: d}
}

// Dialect returns the compiler's dialect.
func (c *Compiler) Dialect() Dialect {
	return c.dialect
}

// Statement is compiled SQL plus its bound arguments.
type Statement struct {
	SQL  string
	Args []any
}

// rootAlias is the alias of the table a select reads from. Subqueries use
// t1, t2, ... in allocation order.
const rootAlias = "t0"

var comparisonOperators = map[where.Operator]string{
	where.OpEq:  "=",
	where.OpNe:  "<>",
	where.OpGt:  ">",
	where.OpGte: ">=",
	where.OpLt:  "<",
	where.OpLte: "<=",
}

// builder accumulates parameters and subquery aliases for one statement.
type builder struct {
	d       Dialect
	args    []any
	aliases int
}

func (c *Compiler) newBuilder() *builder {
	return &builder{d: c.dialect}
}

func (b *builder) bind(v any) string {
	index := len(b.args) + 1
	b.args = append(b.args, b.d.Arg(index, v))
	return b.d.Placeholder(index)
}

func (b *builder) alias() string {
	b.aliases++
	return "t" + strconv.Itoa(b.aliases)
}

func (b *builder) col(alias, name string) string {
	return alias + "." + b.d.Quote(name)
}

func (b *builder) table(ti *schema.TableInfo) string {
	return b.d.Quote(ti.Name())
}

// CompileWhere compiles a filter against ti, which is aliased t0.
// A nil filter compiles to "1 = 1".
func (c *Compiler) CompileWhere(ti *schema.TableInfo, e where.Expr) (string, []any, error) {
	b := c.newBuilder()
	sql, err := b.where(ti, rootAlias, e)
	if err != nil {
		return "", nil, err
	}
	return sql, b.args, nil
}

func (b *builder) where(ti *schema.TableInfo, alias string, e where.Expr) (string, error) {
	switch x := e.(type) {
	case nil:
		return "1 = 1", nil

	case where.Comparison:
		return b.comparison(ti, alias, x)

	case where.Group:
		inner, err := b.where(ti, alias, x.Expr)
		if err != nil {
			return "", err
		}
		return "(" + inner + ")", nil

	case where.Junction:
		left, err := b.where(ti, alias, x.Left)
		if err != nil {
			return "", err
		}
		right, err := b.where(ti, alias, x.Right)
		if err != nil {
			return "", err
		}
		logic := "AND"
		if x.Logic == where.Or {
			logic = "OR"
		}
		return fmt.Sprintf("(%s %s %s)", left, logic, right), nil

	case where.Exists:
		frag := where.String(x)
		hops, err := resolvePath(ti, splitPath(x.Path), frag)
		if err != nil {
			return "", err
		}
		if len(hops) == 0 {
			return "", compileErrorf(ErrCodeUnknownRelation, frag, "empty relation path")
		}
		return b.exists(ti, alias, hops, func(target *schema.TableInfo, targetAlias string) (string, error) {
			if x.Where == nil {
				return "", nil
			}
			return b.where(target, targetAlias, x.Where)
		})

	default:
		return "", compileErrorf(ErrCodeUnsupported, "", "unsupported expression type %T", e)
	}
}

func (b *builder) comparison(ti *schema.TableInfo, alias string, cmp where.Comparison) (string, error) {
	frag := where.String(cmp)
	segs := splitPath(cmp.Field)
	if len(segs) == 0 {
		return "", compileErrorf(ErrCodeUnknownColumn, frag, "empty field")
	}
	colName := segs[len(segs)-1]

	hops, err := resolvePath(ti, segs[:len(segs)-1], frag)
	if err != nil {
		return "", err
	}

	if crossesChild(hops) {
		return b.exists(ti, alias, hops, func(target *schema.TableInfo, targetAlias string) (string, error) {
			col, ok := target.Column(colName)
			if !ok {
				return "", compileErrorf(ErrCodeUnknownColumn, frag, "table %q has no column %q", target.Name(), colName)
			}
			return b.predicate(b.col(targetAlias, colName), col, cmp, frag)
		})
	}

	ref, col, err := b.parentRef(ti, alias, hops, colName, frag)
	if err != nil {
		return "", err
	}
	return b.predicate(ref, col, cmp, frag)
}

// predicate renders "<ref> <op> <param>" for one comparison.
func (b *builder) predicate(ref string, col schema.Column, cmp where.Comparison, frag string) (string, error) {
	switch {
	case cmp.Op == where.OpIn:
		values, ok := cmp.Value.([]any)
		if !ok {
			return "", compileErrorf(ErrCodeInvalidValue, frag, "in requires a list of values")
		}
		var marks []string
		for _, v := range values {
			if v == nil {
				continue
			}
			cv, err := col.Coerce(v)
			if err != nil {
				return "", compileErrorf(ErrCodeInvalidValue, frag, "%v", err)
			}
			marks = append(marks, b.bind(cv))
		}
		if len(marks) == 0 {
			return "1 = 0", nil
		}
		return fmt.Sprintf("%s IN (%s)", ref, strings.Join(marks, ", ")), nil

	case cmp.Value == nil:
		switch cmp.Op {
		case where.OpEq:
			return ref + " IS NULL", nil
		case where.OpNe:
			return ref + " IS NOT NULL", nil
		default:
			return "", compileErrorf(ErrCodeNullOperator, frag, "null cannot be used with operator %q", cmp.Op)
		}

	case cmp.Op.IsLike():
		text, err := schema.Column{Name: col.Name, Type: schema.Text}.Coerce(cmp.Value)
		if err != nil {
			return "", compileErrorf(ErrCodeInvalidValue, frag, "%v", err)
		}
		pattern := likePattern(cmp.Op, text.(string))
		like := b.d.Like(cmp.Op == where.OpNotContains)
		return fmt.Sprintf(`%s %s %s ESCAPE '\'`, ref, like, b.bind(pattern)), nil

	default:
		op, ok := comparisonOperators[cmp.Op]
		if !ok {
			return "", compileErrorf(ErrCodeUnsupported, frag, "unknown operator %q", cmp.Op)
		}
		cv, err := col.Coerce(cmp.Value)
		if err != nil {
			return "", compileErrorf(ErrCodeInvalidValue, frag, "%v", err)
		}
		return fmt.Sprintf("%s %s %s", ref, op, b.bind(cv)), nil
	}
}

// exists renders nested EXISTS subqueries, one per hop. inner produces the
// predicate applied on the last table; an empty result adds nothing.
func (b *builder) exists(ti *schema.TableInfo, alias string, hops []hop, inner func(*schema.TableInfo, string) (string, error)) (string, error) {
	if len(hops) == 0 {
		return inner(ti, alias)
	}

	h := hops[0]
	a := b.alias()
	var target *schema.TableInfo
	var join string
	if h.dir == schema.ToParent {
		target = h.rel.Parent
		join = fmt.Sprintf("%s = %s", b.col(a, target.PrimaryKey.Name), b.col(alias, h.rel.Column.Name))
	} else {
		target = h.rel.Child
		join = fmt.Sprintf("%s = %s", b.col(a, h.rel.Column.Name), b.col(alias, ti.PrimaryKey.Name))
	}

	rest, err := b.exists(target, a, hops[1:], inner)
	if err != nil {
		return "", err
	}
	cond := join
	if rest != "" {
		cond += " AND " + rest
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM %s %s WHERE %s)", b.table(target), a, cond), nil
}

// parentRef resolves a column reached through to-parent hops only. Each hop
// becomes a correlated scalar subselect wrapping the previous reference.
func (b *builder) parentRef(ti *schema.TableInfo, alias string, hops []hop, colName, frag string) (string, schema.Column, error) {
	target := ti
	if len(hops) > 0 {
		target = hops[len(hops)-1].rel.Parent
	}
	col, ok := target.Column(colName)
	if !ok {
		return "", schema.Column{}, compileErrorf(ErrCodeUnknownColumn, frag, "table %q has no column %q", target.Name(), colName)
	}
	if len(hops) == 0 {
		return b.col(alias, colName), col, nil
	}

	ref := b.col(alias, hops[0].rel.Column.Name)
	for i, h := range hops {
		a := b.alias()
		next := colName
		if i+1 < len(hops) {
			next = hops[i+1].rel.Column.Name
		}
		parent := h.rel.Parent
		ref = fmt.Sprintf("(SELECT %s FROM %s %s WHERE %s = %s)",
			b.col(a, next), b.table(parent), a, b.col(a, parent.PrimaryKey.Name), ref)
	}
	return ref, col, nil
}

// orderBy renders ORDER BY items followed by the primary-key tiebreaker.
func (b *builder) orderBy(ti *schema.TableInfo, alias string, orders []where.Order) (string, error) {
	parts := make([]string, 0, len(orders)+1)
	pkOrdered := false
	for _, o := range orders {
		frag := o.String()
		segs := splitPath(o.Field)
		if len(segs) == 0 {
			return "", compileErrorf(ErrCodeUnknownColumn, frag, "empty order field")
		}
		colName := segs[len(segs)-1]
		hops, err := resolvePath(ti, segs[:len(segs)-1], frag)
		if err != nil {
			return "", err
		}
		if crossesChild(hops) {
			return "", compileErrorf(ErrCodeUnsupported, frag, "cannot order through a to-child relation")
		}
		ref, _, err := b.parentRef(ti, alias, hops, colName, frag)
		if err != nil {
			return "", err
		}
		if len(hops) == 0 && colName == ti.PrimaryKey.Name {
			pkOrdered = true
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts = append(parts, ref+" "+dir)
	}
	if !pkOrdered && ti.PrimaryKey.Name != "" {
		parts = append(parts, b.col(alias, ti.PrimaryKey.Name)+" ASC")
	}
	return strings.Join(parts, ", "), nil
}

type hop struct {
	rel *schema.RelationInfo
	dir schema.Direction
}

func resolvePath(ti *schema.TableInfo, segs []string, frag string) ([]hop, error) {
	hops := make([]hop, 0, len(segs))
	cur := ti
	for _, seg := range segs {
		rel, dir, err := cur.LookupAssociation(seg)
		if errors.Is(err, schema.ErrAmbiguousAssociation) {
			return nil, compileErrorf(ErrCodeAmbiguousRelation, frag, "association %q of table %q is declared by more than one table", seg, cur.Name())
		}
		if err != nil {
			return nil, compileErrorf(ErrCodeUnknownRelation, frag, "table %q has no association %q", cur.Name(), seg)
		}
		hops = append(hops, hop{rel: rel, dir: dir})
		if dir == schema.ToParent {
			cur = rel.Parent
		} else {
			cur = rel.Child
		}
	}
	return hops, nil
}

func crossesChild(hops []hop) bool {
	for _, h := range hops {
		if h.dir == schema.ToChild {
			return true
		}
	}
	return false
}

func splitPath(path string) []string {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	return strings.Split(path, ".")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(op where.Operator, s string) string {
	s = likeEscaper.Replace(s)
	switch op {
	case where.OpStartsWith:
		return s + "%"
	case where.OpEndsWith:
		return "%" + s
	default:
		return "%" + s + "%"
	}
}
