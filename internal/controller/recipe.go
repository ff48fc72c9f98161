package controller

import (
	"fmt"

	"github.com/fluxcache/fluxcache/internal/query"
)

// Recipe is the cumulative, currently-installed set of statements: every
// CREATE TABLE and QUERY the controller has ever been asked to install or
// extend with, in the order they were first seen (§4.7's "recipe" concept —
// "the full, ordered set of schema and queries currently active").
type Recipe struct {
	Statements []query.Statement
	text       []string // original source, one entry per Install/Extend call, for graphviz/status dumps
}

func (r *Recipe) append(src string, stmts []query.Statement) {
	r.text = append(r.text, src)
	r.Statements = append(r.Statements, stmts...)
}

// Source returns the concatenation of every Install/Extend call's source
// text, in order.
func (r *Recipe) Source() string {
	out := ""
	for i, t := range r.text {
		if i > 0 {
			out += "\n"
		}
		out += t
	}
	return out
}

// Tables returns the names of every CreateTable statement in the recipe, in
// declaration order.
func (r *Recipe) Tables() []string {
	var out []string
	for _, s := range r.Statements {
		if ct, ok := s.(*query.CreateTable); ok {
			out = append(out, ct.Name)
		}
	}
	return out
}

// Queries returns the names of every NamedQuery statement in the recipe, in
// declaration order.
func (r *Recipe) Queries() []string {
	var out []string
	for _, s := range r.Statements {
		if nq, ok := s.(*query.NamedQuery); ok {
			out = append(out, nq.Name)
		}
	}
	return out
}

func splitStatements(src string) ([]query.Statement, error) {
	stmts, err := query.ParseStatements(src)
	if err != nil {
		return nil, fmt.Errorf("controller: parsing recipe: %w", err)
	}
	return stmts, nil
}
