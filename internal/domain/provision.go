package domain

import "time"

// InstallStatus is the coarse provisioning state shown to the dashboard.
type InstallStatus string

const (
	StatusPending      InstallStatus = "pending"
	StatusProvisioning InstallStatus = "provisioning"
	StatusInstalling   InstallStatus = "installing"
	StatusSyncing      InstallStatus = "syncing"
	StatusReady        InstallStatus = "ready"
	StatusError        InstallStatus = "error"
)

// Terminal reports whether no further ticks may mutate the row.
func (s InstallStatus) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// InstallStep is the fine-grained position inside the provisioning FSM.
type InstallStep string

const (
	StepCreateProject     InstallStep = "create_project"
	StepCreateDatabase    InstallStep = "create_database"
	StepWaitDatabaseReady InstallStep = "wait_database_ready"
	StepApplySchema       InstallStep = "apply_schema"
	StepVerifyConnection  InstallStep = "verify_connection"
	StepStartSync         InstallStep = "start_sync"
	StepVerifySync        InstallStep = "verify_sync"
	StepDone              InstallStep = "done"
	StepNone              InstallStep = ""
)

// ProvisionedDatabase is the per-tenant provisioning row. project_ref owns the
// external Supabase project for as long as the row exists.
type ProvisionedDatabase struct {
	TenantID             string
	ProjectRef           string
	DBPasswordCiphertext []byte
	ConnectionHost       string
	Region               string
	InstallStatus        InstallStatus
	InstallStep          InstallStep
	ErrorMessage         string // non-empty iff InstallStatus == StatusError
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
