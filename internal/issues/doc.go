// Package issues creates fully configured issues on the target repository.
//
// CreateComplete runs a fixed sequence of named stages for one IssueRecord.
// Creating the issue and adding it to the project are primary: their failure
// fails the record. Every later stage is attempted regardless of the others
// and its failure is reported as a sub-error of a successful result.
package issues
