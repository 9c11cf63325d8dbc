package forge

// WorkspacePayload mirrors the workspace resource fields the tool reads.
type WorkspacePayload struct {
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
}

// WorkspaceMembershipPayload mirrors one entry of the workspace permission
// listing exposed under the current user's account.
type WorkspaceMembershipPayload struct {
	Permission string           `json:"permission"`
	Workspace  WorkspacePayload `json:"workspace"`
}

// CloneLinkPayload names one clone protocol endpoint of a repository.
type CloneLinkPayload struct {
	Name string `json:"name"`
	Href string `json:"href"`
}

// RepositoryLinksPayload carries the repository link collections the tool reads.
type RepositoryLinksPayload struct {
	Clone []CloneLinkPayload `json:"clone"`
}

// RepositoryPayload mirrors the repository resource fields the tool reads.
type RepositoryPayload struct {
	Name        string                 `json:"name"`
	Slug        string                 `json:"slug"`
	FullName    string                 `json:"full_name"`
	Description string                 `json:"description"`
	SCM         string                 `json:"scm"`
	Language    string                 `json:"language"`
	Size        int64                  `json:"size"`
	IsPrivate   bool                   `json:"is_private"`
	HasIssues   bool                   `json:"has_issues"`
	HasWiki     bool                   `json:"has_wiki"`
	CreatedOn   string                 `json:"created_on"`
	UpdatedOn   string                 `json:"updated_on"`
	Links       RepositoryLinksPayload `json:"links"`
}

// CloneEndpoint returns the clone URL for the named protocol, empty when absent.
func (payload RepositoryPayload) CloneEndpoint(protocolName string) string {
	for _, cloneLink := range payload.Links.Clone {
		if cloneLink.Name == protocolName {
			return cloneLink.Href
		}
	}
	return ""
}

// UserPayload mirrors the account resource fields the tool reads.
type UserPayload struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AccountID   string `json:"account_id"`
}

// RenderedContentPayload carries the raw markup of a rendered content field.
type RenderedContentPayload struct {
	Raw string `json:"raw"`
}

// IssuePayload mirrors the issue resource fields the tool reads and restores.
type IssuePayload struct {
	ID        int                    `json:"id"`
	Title     string                 `json:"title"`
	Content   RenderedContentPayload `json:"content"`
	Kind      string                 `json:"kind"`
	Priority  string                 `json:"priority"`
	State     string                 `json:"state"`
	Reporter  UserPayload            `json:"reporter"`
	Assignee  *UserPayload           `json:"assignee"`
	CreatedOn string                 `json:"created_on"`
}

// CommentPayload mirrors one issue or pull request comment.
type CommentPayload struct {
	Content   RenderedContentPayload `json:"content"`
	User      UserPayload            `json:"user"`
	CreatedOn string                 `json:"created_on"`
}

// BranchReferencePayload names the branch of a pull request endpoint.
type BranchReferencePayload struct {
	Branch struct {
		Name string `json:"name"`
	} `json:"branch"`
}

// PullRequestPayload mirrors the pull request resource fields the tool documents.
type PullRequestPayload struct {
	ID          int                    `json:"id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	State       string                 `json:"state"`
	Author      UserPayload            `json:"author"`
	Source      BranchReferencePayload `json:"source"`
	Destination BranchReferencePayload `json:"destination"`
	CreatedOn   string                 `json:"created_on"`
	UpdatedOn   string                 `json:"updated_on"`
}

// RefPayload mirrors one branch or tag reference.
type RefPayload struct {
	Name   string `json:"name"`
	Target struct {
		Hash string `json:"hash"`
		Date string `json:"date"`
	} `json:"target"`
}

// WikiPagePayload mirrors one wiki page resource.
type WikiPagePayload struct {
	Title     string      `json:"title"`
	Slug      string      `json:"slug"`
	Content   string      `json:"content"`
	Author    UserPayload `json:"author"`
	CreatedOn string      `json:"created_on"`
	UpdatedOn string      `json:"updated_on"`
}

// WebhookPayload mirrors one repository webhook subscription.
type WebhookPayload struct {
	UUID        string   `json:"uuid"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Active      bool     `json:"active"`
	Events      []string `json:"events"`
}

// DeployKeyPayload mirrors one repository deploy key. Only the public half is
// ever present; private key material never transits the API.
type DeployKeyPayload struct {
	ID      int    `json:"id"`
	Key     string `json:"key"`
	Label   string `json:"label"`
	Comment string `json:"comment"`
}

// BranchRestrictionPayload mirrors one branch restriction rule.
type BranchRestrictionPayload struct {
	ID      int    `json:"id"`
	Kind    string `json:"kind"`
	Pattern string `json:"pattern"`
	Value   *int   `json:"value"`
}

// PermissionPayload mirrors one repository user permission entry.
type PermissionPayload struct {
	Permission string      `json:"permission"`
	User       UserPayload `json:"user"`
}
