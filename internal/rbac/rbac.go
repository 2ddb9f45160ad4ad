package rbac

type Role string
type Action string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

const (
	ActionRead         Action = "read"
	ActionSubmit       Action = "submit"
	ActionAssign       Action = "assign"
	ActionUpdateStatus Action = "update_status"
	ActionMessage      Action = "message"
	ActionFeedback     Action = "feedback"
	ActionAdmin        Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleAgent:
		return action == ActionRead || action == ActionUpdateStatus || action == ActionMessage
	case RoleUser:
		return action == ActionRead || action == ActionSubmit || action == ActionMessage || action == ActionFeedback
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleAgent, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}
