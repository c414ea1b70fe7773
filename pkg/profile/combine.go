package profile

import "strings"

// Concat stacks tables vertically. The result has the union of all columns in
// order of first appearance; a column absent from some input is padded with
// missing values. Columns whose kinds disagree across inputs are widened to
// float when both are numeric and to string otherwise.
func Concat(tables ...*Table) *Table {
	var prefix string
	kinds := make(map[string]Kind)
	var order []string
	for _, t := range tables {
		if t == nil {
			continue
		}
		if prefix == "" {
			prefix = t.prefix
		}
		for _, c := range t.cols {
			k, seen := kinds[c.name]
			if !seen {
				kinds[c.name] = c.kind
				order = append(order, c.name)
				continue
			}
			kinds[c.name] = widen(k, c.kind)
		}
	}
	for name, k := range kinds {
		if k != KindInt {
			continue
		}
		for _, t := range tables {
			if t != nil && !t.Has(name) {
				kinds[name] = KindFloat
				break
			}
		}
	}
	out := New(prefix)
	for _, name := range order {
		col := &Column{name: name, kind: kinds[name]}
		for _, t := range tables {
			if t == nil {
				continue
			}
			src, err := t.Column(name)
			if err != nil {
				src = missing(name, kinds[name], t.rows)
			}
			col.appendFrom(src)
		}
		out.index[name] = len(out.cols)
		out.cols = append(out.cols, col)
	}
	for _, t := range tables {
		if t != nil {
			out.rows += t.rows
		}
	}
	return out
}

func widen(a, b Kind) Kind {
	switch {
	case a == b:
		return a
	case a.Numeric() && b.Numeric():
		return KindFloat
	default:
		return KindString
	}
}

// LeftJoin appends the columns of right to left, matching rows on the key
// columns. The first right row per key wins; left rows without a match get
// missing values. Key columns are compared by canonical string form.
func LeftJoin(left, right *Table, keys ...string) (*Table, error) {
	rg, err := right.GroupBy(keys...)
	if err != nil {
		return nil, err
	}
	first := make(map[string]int, len(rg))
	for _, g := range rg {
		first[g.Key] = g.Rows[0]
	}
	lkeys := make([]*Column, len(keys))
	for i, k := range keys {
		c, err := left.Column(k)
		if err != nil {
			return nil, err
		}
		lkeys[i] = c
	}

	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	out := left.Clone()
	vals := make([]string, len(keys))
	for _, rc := range right.cols {
		if isKey[rc.name] {
			continue
		}
		col := &Column{name: rc.name, kind: rc.kind}
		if rc.kind == KindInt {
			col.kind = KindFloat
		}
		pad := missing(rc.name, col.kind, 1)
		for r := 0; r < left.rows; r++ {
			for i, c := range lkeys {
				vals[i] = c.Format(r)
			}
			if j, ok := first[strings.Join(vals, "\x1f")]; ok {
				col.appendFrom(rc.take([]int{j}))
			} else {
				col.appendFrom(pad)
			}
		}
		if err := out.AddColumn(col); err != nil {
			return nil, err
		}
	}
	return out, nil
}
