// Package todo defines the task record and the pure operations applied to an
// in-memory collection of records.
//
// A collection is an ordered []Record. Every operation preserves storage
// order; nothing here touches the backing document.
package todo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrIDSpaceExhausted is returned by [NextID] when the collection already
// holds the largest representable id.
var ErrIDSpaceExhausted = errors.New("todo id space exhausted")

// Record is a single task.
type Record struct {
	ID        uint64 `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// Patch is a partial update. Nil fields leave the record unchanged.
type Patch struct {
	Title     *string `json:"title,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// String renders the patch for confirmation messages, e.g.
// {title: "Buy milk", completed: <unset>}.
func (p Patch) String() string {
	title := "<unset>"
	if p.Title != nil {
		title = strconv.Quote(*p.Title)
	}

	completed := "<unset>"
	if p.Completed != nil {
		completed = strconv.FormatBool(*p.Completed)
	}

	return fmt.Sprintf("{title: %s, completed: %s}", title, completed)
}

// NextID returns one more than the highest id in c, or 1 when c is empty.
// Freed ids are reused when the highest record was removed.
func NextID(c []Record) (uint64, error) {
	var highest uint64

	for i := range c {
		if c[i].ID > highest {
			highest = c[i].ID
		}
	}

	if highest == math.MaxUint64 {
		return 0, ErrIDSpaceExhausted
	}

	return highest + 1, nil
}

// New builds an open record with the next id for c. It does not insert it.
func New(c []Record, title string) (Record, error) {
	id, err := NextID(c)
	if err != nil {
		return Record{}, err
	}

	return Record{ID: id, Title: title, Completed: false}, nil
}

// FindByID returns the index of the first record with id.
func FindByID(c []Record, id uint64) (int, bool) {
	for i := range c {
		if c[i].ID == id {
			return i, true
		}
	}

	return -1, false
}

// Insert appends r to the end of c.
func Insert(c []Record, r Record) []Record {
	return append(c, r)
}

// Apply overwrites the fields present in p. The id is never changed.
func Apply(r *Record, p Patch) {
	if p.Title != nil {
		r.Title = *p.Title
	}

	if p.Completed != nil {
		r.Completed = *p.Completed
	}
}

// RemoveByID removes the first record with id, keeping the relative order of
// the rest. Reports whether anything was removed.
func RemoveByID(c []Record, id uint64) ([]Record, bool) {
	idx, ok := FindByID(c, id)
	if !ok {
		return c, false
	}

	return append(c[:idx], c[idx+1:]...), true
}
