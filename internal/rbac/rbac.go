package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleAnnotator Role = "annotator"
	RoleAdmin     Role = "admin"
)

const (
	// ActionRead covers viewing documents, history, search and exports.
	ActionRead Action = "read"
	// ActionAnnotate covers every span edit and text replacement.
	ActionAnnotate Action = "annotate"
	// ActionImport covers creating documents from extraction output and
	// re-merging extraction into an existing document.
	ActionImport Action = "import"
	ActionAdmin  Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleAnnotator:
		return action == ActionRead || action == ActionAnnotate
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleAnnotator, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
