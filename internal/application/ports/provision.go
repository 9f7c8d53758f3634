package ports

import "context"

// ControlPlaneProject is what the managed-Postgres control plane assigns on create.
type ControlPlaneProject struct {
	Ref    string
	Region string
}

// ControlPlane wraps the managed-Postgres control-plane HTTP API.
type ControlPlane interface {
	// CreateProject provisions a project. dbPassword is transmitted here and
	// nowhere else in plaintext.
	CreateProject(ctx context.Context, name, dbPassword, region string) (*ControlPlaneProject, error)
	// RunQuery executes SQL against a project and returns the result rows.
	RunQuery(ctx context.Context, projectRef, sql string) ([]map[string]any, error)
	// DeleteProject removes a project. A 404 is an error: an orphaned local
	// row is worse than a loud failure.
	DeleteProject(ctx context.Context, projectRef string) error
}

// SyncInstaller is the opaque collaborator that installs sync artifacts on a
// connected tenant. It may back off internally on its own retriable errors;
// the FSM invokes it at most once per tick.
type SyncInstaller interface {
	Install(ctx context.Context, accessToken string) error
}
