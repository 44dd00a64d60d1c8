package aggregate

import (
	"github.com/shopspring/decimal"
)

// Cell is a count and amount pair
type Cell struct {
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// Plus returns the sum of two cells
func (c Cell) Plus(o Cell) Cell {
	return Cell{Count: c.Count + o.Count, Amount: c.Amount.Add(o.Amount)}
}

// CategoryTotals holds one cell per age window for a category
type CategoryTotals struct {
	Name  string `json:"name"`
	Cells []Cell `json:"cells"`
}

// Total sums the category across windows
func (c CategoryTotals) Total() Cell {
	var t Cell
	for _, cell := range c.Cells {
		t = t.Plus(cell)
	}
	return t
}

// Totals is the bucket table of one group: categories in first-seen
// order, each split by age window, plus the roll-up across everything.
type Totals struct {
	Categories []CategoryTotals `json:"categories"`
	Total      Cell             `json:"total"`
}

func (t *Totals) add(category string, window, windows int, amount decimal.Decimal) {
	idx := -1
	for i := range t.Categories {
		if t.Categories[i].Name == category {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.Categories = append(t.Categories, CategoryTotals{Name: category, Cells: make([]Cell, windows)})
		idx = len(t.Categories) - 1
	}

	one := Cell{Count: 1, Amount: amount}
	t.Categories[idx].Cells[window] = t.Categories[idx].Cells[window].Plus(one)
	t.Total = t.Total.Plus(one)
}

// Window sums window i across categories
func (t Totals) Window(i int) Cell {
	var c Cell
	for _, cat := range t.Categories {
		if i < len(cat.Cells) {
			c = c.Plus(cat.Cells[i])
		}
	}
	return c
}

// Category returns the totals of a named category
func (t Totals) Category(name string) (CategoryTotals, bool) {
	for _, c := range t.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return CategoryTotals{}, false
}

func (t Totals) clone() Totals {
	out := Totals{Total: t.Total}
	if t.Categories != nil {
		out.Categories = make([]CategoryTotals, len(t.Categories))
		for i, c := range t.Categories {
			cells := make([]Cell, len(c.Cells))
			copy(cells, c.Cells)
			out.Categories[i] = CategoryTotals{Name: c.Name, Cells: cells}
		}
	}
	return out
}
