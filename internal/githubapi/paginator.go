package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	defaultCursorVariableConstant       = "after"
	defaultPageSizeVariableConstant     = "first"
	defaultPageSizeConstant             = 100
	connectionNodesSuffixConstant       = ".nodes"
	connectionHasNextPageSuffixConstant = ".pageInfo.hasNextPage"
	connectionEndCursorSuffixConstant   = ".pageInfo.endCursor"
	connectionMissingErrorTemplate      = "connection %q missing from response"
	connectionPathFieldNameConstant     = "connection_path"
)

// GraphQLExecutor executes GraphQL requests and returns their data member.
type GraphQLExecutor interface {
	ExecuteGraphQL(executionContext context.Context, request GraphQLRequest) (json.RawMessage, error)
}

// PageQuery describes a GraphQL connection to traverse.
type PageQuery struct {
	Name      string
	Query     string
	Variables map[string]any
	// ConnectionPath locates the connection in the data member, for example node.items.
	ConnectionPath   string
	PageSize         int
	CursorVariable   string
	PageSizeVariable string
	Features         []string
}

// Page is one fetched slice of a connection.
type Page struct {
	Number    int
	Items     []json.RawMessage
	EndCursor string
	HasMore   bool
}

// Paginator walks a connection one page per call. Nothing is fetched until Next is called.
// A Paginator is not safe for concurrent use.
type Paginator struct {
	executor    GraphQLExecutor
	query       PageQuery
	startCursor string
	cursor      string
	pageNumber  int
	exhausted   bool
}

// NewPaginator constructs a Paginator starting at the beginning of the connection.
func NewPaginator(executor GraphQLExecutor, query PageQuery) *Paginator {
	sanitizedQuery := query
	if len(sanitizedQuery.CursorVariable) == 0 {
		sanitizedQuery.CursorVariable = defaultCursorVariableConstant
	}
	if len(sanitizedQuery.PageSizeVariable) == 0 {
		sanitizedQuery.PageSizeVariable = defaultPageSizeVariableConstant
	}
	if sanitizedQuery.PageSize <= 0 {
		sanitizedQuery.PageSize = defaultPageSizeConstant
	}
	sanitizedQuery.Variables = maps.Clone(query.Variables)
	return &Paginator{executor: executor, query: sanitizedQuery}
}

// Next fetches the following page. The boolean is false once the connection is exhausted,
// either because the previous page reported no more results or because a page came back empty.
func (paginator *Paginator) Next(executionContext context.Context) (Page, bool, error) {
	if paginator.exhausted {
		return Page{}, false, nil
	}
	if len(strings.TrimSpace(paginator.query.ConnectionPath)) == 0 {
		return Page{}, false, InvalidInputError{FieldName: connectionPathFieldNameConstant, Message: requiredValueMessageConstant}
	}

	variables := maps.Clone(paginator.query.Variables)
	if variables == nil {
		variables = map[string]any{}
	}
	variables[paginator.query.PageSizeVariable] = paginator.query.PageSize
	if len(paginator.cursor) > 0 {
		variables[paginator.query.CursorVariable] = paginator.cursor
	} else {
		variables[paginator.query.CursorVariable] = nil
	}

	request := GraphQLRequest{
		Name:      paginator.query.Name,
		Query:     paginator.query.Query,
		Variables: variables,
		Features:  paginator.query.Features,
	}

	data, executionError := paginator.executor.ExecuteGraphQL(executionContext, request)
	if executionError != nil {
		return Page{}, false, executionError
	}

	connectionResult := gjson.GetBytes(data, paginator.query.ConnectionPath)
	if !connectionResult.Exists() || connectionResult.Type == gjson.Null {
		return Page{}, false, ResponseDecodingError{
			Operation: request.OperationName(),
			Cause:     fmt.Errorf(connectionMissingErrorTemplate, paginator.query.ConnectionPath),
		}
	}

	nodeResults := gjson.GetBytes(data, paginator.query.ConnectionPath+connectionNodesSuffixConstant).Array()
	items := make([]json.RawMessage, 0, len(nodeResults))
	for _, nodeResult := range nodeResults {
		items = append(items, json.RawMessage(nodeResult.Raw))
	}

	hasMore := gjson.GetBytes(data, paginator.query.ConnectionPath+connectionHasNextPageSuffixConstant).Bool()
	endCursor := gjson.GetBytes(data, paginator.query.ConnectionPath+connectionEndCursorSuffixConstant).String()

	if len(items) == 0 {
		paginator.exhausted = true
		return Page{}, false, nil
	}

	if !hasMore || len(endCursor) == 0 || endCursor == paginator.cursor {
		paginator.exhausted = true
	}

	paginator.pageNumber++
	paginator.cursor = endCursor

	return Page{
		Number:    paginator.pageNumber,
		Items:     items,
		EndCursor: endCursor,
		HasMore:   hasMore,
	}, true, nil
}

// Pages exposes the remaining pages as an iterator. Iteration stops after the first error.
func (paginator *Paginator) Pages(executionContext context.Context) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		for {
			page, available, nextError := paginator.Next(executionContext)
			if nextError != nil {
				yield(Page{}, nextError)
				return
			}
			if !available {
				return
			}
			if !yield(page, nil) {
				return
			}
		}
	}
}

// Collect drains the connection. A positive limit stops collection once that many items are gathered.
func (paginator *Paginator) Collect(executionContext context.Context, limit int) ([]json.RawMessage, error) {
	var collected []json.RawMessage
	for page, pageError := range paginator.Pages(executionContext) {
		if pageError != nil {
			return collected, pageError
		}
		collected = append(collected, page.Items...)
		if limit > 0 && len(collected) >= limit {
			return collected[:limit], nil
		}
	}
	return collected, nil
}

// Cursor returns the end cursor of the last fetched page.
func (paginator *Paginator) Cursor() string {
	return paginator.cursor
}

// ResumeFrom restarts traversal after the given cursor.
func (paginator *Paginator) ResumeFrom(cursor string) {
	paginator.startCursor = cursor
	paginator.Reset()
}

// Reset restarts traversal from the starting cursor.
func (paginator *Paginator) Reset() {
	paginator.cursor = paginator.startCursor
	paginator.pageNumber = 0
	paginator.exhausted = false
}
