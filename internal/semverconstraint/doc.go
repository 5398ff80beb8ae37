// Package semverconstraint parses and evaluates the small dependency-constraint
// grammar used by package definitions: a bare version ("1.2.3"), a caret range
// ("^1.2.3"), a tilde range ("~1.2"), or a comma-separated list of comparison
// clauses (">=1.0.0,<2.0.0"). Version comparison itself is delegated to
// golang.org/x/mod/semver; only the range grammar is bespoke.
package semverconstraint
