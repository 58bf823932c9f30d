// Package generator defines the result generators that jobs run on their
// final step, along with a registry that maps job kinds to generators.
// Generators are pure: the same parameters always produce the same payload.
package generator
