package trans

// ComponentClass groups components for permission purposes. Commit rights
// are granted per language and component class, not per single component.
type ComponentClass string

const (
	ClassCore     ComponentClass = "core"
	ClassStandard ComponentClass = "standard"
	ClassContrib  ComponentClass = "contrib"
)

// Classifier maps a component name to its class.
type Classifier interface {
	Classify(component string) ComponentClass
}

// Permissions is the permission provider consulted by the prune filter and
// by the contribution workflow guards. Implementations are expected to be
// safe for concurrent use.
type Permissions interface {
	// CanCommit reports whether the user may commit translations for the
	// given language and component class.
	CanCommit(userID, lang string, class ComponentClass) bool
	// CanManage reports whether the user may review contributions.
	CanManage(userID string) bool
}
