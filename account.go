package session

// Account is the identity as known to this subsystem, whichever source it
// came from. Created by registration or a first federated login; this
// subsystem never deletes it.
type Account struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	DisplayName   string `json:"display_name"`
	EmailVerified bool   `json:"email_verified"`
}

func (a *Account) IsZero() bool {
	return a == nil || (a.ID == "" && a.Email == "")
}

// clone returns a copy so watchers cannot mutate controller-owned state.
func (a *Account) clone() *Account {
	if a == nil {
		return nil
	}
	dup := *a
	return &dup
}
