// Package labels makes sure the target repository carries every label a
// migration needs. Existing labels are matched by exact name and never
// modified; absent ones are created.
package labels
