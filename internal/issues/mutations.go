package issues

const (
	createIssueOperationName = "createIssue"
	createIssueMutation      = `mutation($repositoryId: ID!, $title: String!, $body: String!) {
  createIssue(input: {repositoryId: $repositoryId, title: $title, body: $body}) {
    issue { id number url }
  }
}`

	addProjectItemOperationName = "addProjectV2ItemById"
	addProjectItemMutation      = `mutation($projectId: ID!, $contentId: ID!) {
  addProjectV2ItemById(input: {projectId: $projectId, contentId: $contentId}) {
    item { id }
  }
}`

	updateIssueOperationName = "updateIssue"
	updateIssueMutation      = `mutation($input: UpdateIssueInput!) {
  updateIssue(input: $input) {
    issue { id }
  }
}`

	addAssigneesOperationName = "addAssigneesToAssignable"
	addAssigneesMutation      = `mutation($assignableId: ID!, $assigneeIds: [ID!]!) {
  addAssigneesToAssignable(input: {assignableId: $assignableId, assigneeIds: $assigneeIds}) {
    clientMutationId
  }
}`

	updateFieldValueOperationName = "updateProjectV2ItemFieldValue"
	updateFieldValueMutation      = `mutation($projectId: ID!, $itemId: ID!, $fieldId: ID!, $value: ProjectV2FieldValue!) {
  updateProjectV2ItemFieldValue(input: {projectId: $projectId, itemId: $itemId, fieldId: $fieldId, value: $value}) {
    projectV2Item { id }
  }
}`

	addLabelsOperationName = "addLabelsToLabelable"
	addLabelsMutation      = `mutation($labelableId: ID!, $labelIds: [ID!]!) {
  addLabelsToLabelable(input: {labelableId: $labelableId, labelIds: $labelIds}) {
    clientMutationId
  }
}`

	addCommentOperationName = "addComment"
	addCommentMutation      = `mutation($subjectId: ID!, $body: String!) {
  addComment(input: {subjectId: $subjectId, body: $body}) {
    commentEdge { node { id } }
  }
}`

	deleteIssueOperationName = "deleteIssue"
	deleteIssueMutation      = `mutation($issueId: ID!) {
  deleteIssue(input: {issueId: $issueId}) {
    clientMutationId
  }
}`
)
