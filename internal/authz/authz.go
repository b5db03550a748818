// Package authz holds the authorization predicates for repository actions.
//
// The publish/share surface is only offered for private repositories, and
// only to users granted access to private repositories in the first place.
// Handlers evaluate a predicate once per request instead of re-deriving the
// decision from the repository flags at every call site.
package authz

type Action string

const (
	ActionBrowse    Action = "browse"
	ActionWrite     Action = "write"
	ActionPublish   Action = "publish"
	ActionUnpublish Action = "unpublish"
)

// Identity is the authorization-relevant slice of a user record.
type Identity struct {
	Username     string
	PrivateRepos bool
}

// CanViewPrivate reports whether the user may see private repositories at all.
func CanViewPrivate(user Identity) bool {
	return user.PrivateRepos
}

// Can reports whether the user may perform an action against a repository.
// Publishing is a private-repository feature: public repositories are shared
// through the raw-content endpoint and never need a snapshot.
func Can(user Identity, action Action, repoPrivate bool) bool {
	switch action {
	case ActionBrowse, ActionWrite:
		if repoPrivate {
			return CanViewPrivate(user)
		}
		return true
	case ActionPublish, ActionUnpublish:
		return repoPrivate && CanViewPrivate(user)
	default:
		return false
	}
}
