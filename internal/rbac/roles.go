package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleSupervisor = "supervisor"
	RoleAgent      = "agent"
	RoleAnalyst    = "analyst"
	RoleSuperAdmin = "super_admin"
)

// Permission is a capability checked by handlers' middleware.
type Permission string

const (
	// PermQueueRun drives a queue session: start, pause, skip, results.
	PermQueueRun Permission = "queue:run"
	// PermQueueManage creates queues, edits settings and re-queues items.
	PermQueueManage Permission = "queue:manage"
	// PermReportRead reads outcome summaries and activity.
	PermReportRead Permission = "report:read"
)

var grants = map[string][]Permission{
	RoleOwner:      {PermQueueRun, PermQueueManage, PermReportRead},
	RoleSupervisor: {PermQueueRun, PermQueueManage, PermReportRead},
	RoleAgent:      {PermQueueRun},
	RoleAnalyst:    {PermReportRead},
}

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// Can reports whether role holds p. super_admin holds everything; unknown roles nothing.
func Can(role string, p Permission) bool {
	if IsSuperAdmin(role) {
		return true
	}
	for _, g := range grants[role] {
		if g == p {
			return true
		}
	}
	return false
}
