package manager

import "fmt"

// Manager is one league participant.
type Manager struct {
	ID              string
	Name            string
	TeamValue       int64
	Points          int
	Placement       int
	ProfileImageURL string
}

func (m Manager) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("manager id is required")
	}
	if m.Name == "" {
		return fmt.Errorf("manager name is required")
	}
	if m.TeamValue < 0 {
		return fmt.Errorf("manager team value must not be negative")
	}
	return nil
}
