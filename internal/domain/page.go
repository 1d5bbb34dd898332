package domain

import "math"

// Page is a window over a time-ordered collection. Number is 1-indexed.
type Page[T any] struct {
	Items   []T
	Number  int
	PerPage int
	Total   int64
	HasNext bool
	HasPrev bool
	NextNum int
	PrevNum int
}

// NormalizePage clamps a requested page number and page size to usable values.
func NormalizePage(number, perPage int) (int, int) {
	if number < 1 {
		number = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	return number, perPage
}

// Offset returns the number of items preceding the given page. It saturates
// at math.MaxInt instead of wrapping.
func Offset(number, perPage int) int {
	number, perPage = NormalizePage(number, perPage)
	if number-1 > math.MaxInt/perPage {
		return math.MaxInt
	}
	return (number - 1) * perPage
}

// LastPage is the number of the last non-empty page, 0 for an empty collection.
func LastPage(perPage int, total int64) int64 {
	_, perPage = NormalizePage(1, perPage)
	if total <= 0 {
		return 0
	}
	return (total-1)/int64(perPage) + 1
}

// PastEnd reports whether the page holds no items.
func PastEnd(number, perPage int, total int64) bool {
	number, perPage = NormalizePage(number, perPage)
	return int64(number) > LastPage(perPage, total)
}

// NewPage builds a page from the items of the requested window and the total
// size of the collection. A page past the end is empty, never an error.
func NewPage[T any](items []T, number, perPage int, total int64) Page[T] {
	number, perPage = NormalizePage(number, perPage)
	if items == nil {
		items = []T{}
	}

	p := Page[T]{
		Items:   items,
		Number:  number,
		PerPage: perPage,
		Total:   total,
		HasPrev: number > 1,
		HasNext: int64(number) < LastPage(perPage, total),
	}
	if p.HasNext {
		p.NextNum = number + 1
	}
	if p.HasPrev {
		p.PrevNum = number - 1
	}
	return p
}
