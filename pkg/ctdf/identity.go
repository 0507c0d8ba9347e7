package ctdf

type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
	RoleAdmin     Role = "admin"
)

// Identity is the verified subject behind a credential
type Identity struct {
	SubjectID string `json:"subjectId"`
	Role      Role   `json:"role"`
}

func (i Identity) IsDriver() bool {
	return i.Role == RoleDriver
}
