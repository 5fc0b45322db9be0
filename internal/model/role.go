package model

// Role is the authorization level carried in a bearer token.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleReader Role = "reader"
)

var roleRank = map[Role]int{
	RoleReader: 1,
	RoleAdmin:  2,
}

// RoleAtLeast returns true if role has at least the privileges of minRole.
func RoleAtLeast(role, minRole Role) bool {
	return roleRank[role] >= roleRank[minRole]
}
