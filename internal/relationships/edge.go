package relationships

import (
	"fmt"
	"strings"

	"github.com/temirov/ghmigrate/internal/batch"
	"github.com/temirov/ghmigrate/internal/fieldmap"
)

const (
	kindParentOfValueConstant       = "parent-of"
	kindBlockedByValueConstant      = "blocked-by"
	kindBlockingValueConstant       = "blocking"
	edgeKeyTemplateConstant         = "%s %s %s"
	danglingReferenceErrorTemplate  = "%s: reference %q does not resolve to a migrated issue"
	unknownKindErrorTemplate        = "unknown relationship kind %q"
	numberedReferencePrefixConstant = "#"
)

// Kind is the relationship type of an edge.
type Kind string

// Relationship kinds. "A blocked-by B" means A cannot proceed until B is done.
const (
	KindParentOf  Kind = kindParentOfValueConstant
	KindBlockedBy Kind = kindBlockedByValueConstant
	KindBlocking  Kind = kindBlockingValueConstant
)

// ParseKind accepts the kind names with either hyphens or underscores.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "_", "-")) {
	case KindParentOf:
		return KindParentOf, nil
	case KindBlockedBy:
		return KindBlockedBy, nil
	case KindBlocking:
		return KindBlocking, nil
	default:
		return "", fmt.Errorf(unknownKindErrorTemplate, raw)
	}
}

// Edge is a directed relationship between two issue references.
type Edge struct {
	Source string
	Target string
	Kind   Kind
}

// String renders the edge for results.
func (edge Edge) String() string {
	return fmt.Sprintf(edgeKeyTemplateConstant, strings.TrimSpace(edge.Source), edge.Kind, strings.TrimSpace(edge.Target))
}

// RowReferences are the relationship columns of one source issue.
type RowReferences struct {
	Source    string
	Parent    string
	SubIssues []string
	BlockedBy []string
	Blocking  []string
}

// Edges expands the row into edges. A parent reference produces the edge from the parent.
func (references RowReferences) Edges() []Edge {
	var edges []Edge
	if parent := strings.TrimSpace(references.Parent); len(parent) > 0 {
		edges = append(edges, Edge{Source: parent, Target: references.Source, Kind: KindParentOf})
	}
	edges = appendEdges(edges, references.Source, references.SubIssues, KindParentOf)
	edges = appendEdges(edges, references.Source, references.BlockedBy, KindBlockedBy)
	edges = appendEdges(edges, references.Source, references.Blocking, KindBlocking)
	return edges
}

func appendEdges(edges []Edge, source string, targets []string, kind Kind) []Edge {
	for _, target := range targets {
		if trimmedTarget := strings.TrimSpace(target); len(trimmedTarget) > 0 {
			edges = append(edges, Edge{Source: source, Target: trimmedTarget, Kind: kind})
		}
	}
	return edges
}

// ResolvedEdge is an edge whose endpoints are target identifiers.
type ResolvedEdge struct {
	Source fieldmap.RemoteIdentifier
	Target fieldmap.RemoteIdentifier
	Kind   Kind
}

// Canonical folds "A blocking B" into "B blocked-by A".
func (edge ResolvedEdge) Canonical() ResolvedEdge {
	if edge.Kind == KindBlocking {
		return ResolvedEdge{Source: edge.Target, Target: edge.Source, Kind: KindBlockedBy}
	}
	return edge
}

// DanglingReferenceError reports an edge endpoint that no migrated issue answers to.
type DanglingReferenceError struct {
	Edge      Edge
	Reference string
}

// Error describes the dangling endpoint.
func (danglingError DanglingReferenceError) Error() string {
	return fmt.Sprintf(danglingReferenceErrorTemplate, danglingError.Edge, danglingError.Reference)
}

// BatchErrorKind classifies the error for summaries.
func (DanglingReferenceError) BatchErrorKind() batch.ErrorKind {
	return batch.ErrorKindDanglingReference
}
