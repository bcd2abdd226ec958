package auth

import (
	"encoding/json"
	"strings"
)

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleStaff    Role = "STAFF"
	RoleResident Role = "RESIDENT"
)

// NormalizeRole maps the spellings the backend has used over time onto the three
// canonical roles. Unknown values are returned upper-cased.
func NormalizeRole(raw string) Role {
	r := strings.ToUpper(strings.TrimSpace(raw))
	switch r {
	case "ADMIN", "ADMINISTRADOR":
		return RoleAdmin
	case "STAFF", "PERSONAL":
		return RoleStaff
	case "RESIDENT", "RESIDENTE", "CLIENT", "CLIENTE":
		return RoleResident
	default:
		return Role(r)
	}
}

func (r Role) In(allowed ...Role) bool {
	for _, a := range allowed {
		if r == a {
			return true
		}
	}
	return false
}

// Viewer is the authenticated user's profile as returned by the backend's me endpoint.
type Viewer struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      Role   `json:"role"`
	Superuser bool   `json:"is_superuser,omitempty"`
}

// Can reports whether the viewer holds one of the roles. Superusers hold every role.
func (v Viewer) Can(roles ...Role) bool {
	return v.Superuser || v.Role.In(roles...)
}

// UnmarshalJSON reads the role from role, rol, rolNombre or profile.role, whichever is set.
func (v *Viewer) UnmarshalJSON(data []byte) error {
	type plain Viewer
	var raw struct {
		plain
		Role      string `json:"role"`
		Rol       string `json:"rol"`
		RolNombre string `json:"rolNombre"`
		Profile   *struct {
			Role json.RawMessage `json:"role"`
		} `json:"profile"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = Viewer(raw.plain)
	role := firstNonEmpty(raw.Role, raw.Rol, raw.RolNombre)
	if role == "" && raw.Profile != nil {
		role = profileRole(raw.Profile.Role)
	}
	v.Role = NormalizeRole(role)
	return nil
}

// profileRole accepts either a bare code or a {"code": ...} object.
func profileRole(raw json.RawMessage) string {
	var code string
	if json.Unmarshal(raw, &code) == nil {
		return code
	}
	var obj struct {
		Code string `json:"code"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Code
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
